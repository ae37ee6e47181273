package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"sealfleet/pkg/apperrors"
	"sealfleet/pkg/database"
	"sealfleet/pkg/models"
)

var db *gorm.DB

func main() {
	_ = godotenv.Load()
	log.Println("Starting catalog service...")

	db = database.InitCatalogDB()
	seedCatalogData()

	server := gin.Default()
	server.GET("/api/v1/products", getProducts)
	server.GET("/api/v1/products/:productId", getProduct)
	server.POST("/api/v1/products/:productId/decrease-stock", decreaseStock)
	server.GET("/api/v1/robots", getRobots)
	server.GET("/api/v1/robots/:robotId", getRobot)
	server.POST("/api/v1/robots/:robotId/reserve", reserveRobot)
	server.POST("/api/v1/robots/:robotId/release", releaseRobot)
	server.GET("/manage/health", healthCheck)

	log.Println("Catalog service starting on :8060")
	if err := server.Run(":8060"); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func seedCatalogData() {
	var productCount int64
	db.Model(&models.Product{}).Count(&productCount)
	if productCount == 0 {
		products := []models.Product{
			{Name: "CleanBot S2", Description: "Compact vacuum robot for apartments", Category: "Robot", Price: 25000000, IsAvailable: true, StockQuantity: 12},
			{Name: "CleanBot Pro X", Description: "Vision AI mopping robot with auto dock", Category: "Robot", Price: 48000000, IsAvailable: true, StockQuantity: 5},
			{Name: "HEPA Filter Pack", Description: "Replacement filters, set of 3", Category: "Accessory", Price: 450000, IsAvailable: true, StockQuantity: 40},
			{Name: "Side Brush Kit", Description: "Spare side brushes for S2 and Pro X", Category: "Accessory", Price: 250000, IsAvailable: true, StockQuantity: 60},
		}
		if err := db.Create(&products).Error; err != nil {
			log.Printf("Failed to seed products: %v", err)
		}
	}

	var robotCount int64
	db.Model(&models.Robot{}).Count(&robotCount)
	if robotCount == 0 {
		robots := []models.Robot{
			{Name: "SEAL-01", Model: "CB-200", ModelType: "CleanBot S2", Status: "active", BatteryLevel: 100},
			{Name: "SEAL-02", Model: "CB-200", ModelType: "CleanBot S2", Status: "active", BatteryLevel: 87},
			{Name: "SEAL-03", Model: "CB-500", ModelType: "CleanBot Pro X", Status: "maintenance", BatteryLevel: 42},
		}
		if err := db.Create(&robots).Error; err != nil {
			log.Printf("Failed to seed robots: %v", err)
		}
	}
	log.Println("Catalog data seeded")
}

func getProducts(c *gin.Context) {
	category := c.Query("category")
	filtered := func() *gorm.DB {
		q := db.Model(&models.Product{})
		if category != "" {
			q = q.Where("category = ?", category)
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	page, size := paginationParams(c)
	query := filtered()
	if c.Query("showAll") != "true" {
		query = query.Offset((page - 1) * size).Limit(size)
	}

	var products []models.Product
	if err := query.Order("id ASC").Find(&products).Error; err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	items := make([]gin.H, len(products))
	for i := range products {
		items[i] = productJSON(&products[i])
	}
	c.JSON(http.StatusOK, gin.H{
		"page":          page,
		"pageSize":      size,
		"totalElements": total,
		"items":         items,
	})
}

func getProduct(c *gin.Context) {
	productID, ok := parseIDParam(c, "productId")
	if !ok {
		return
	}
	var product models.Product
	if err := db.First(&product, productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, apperrors.NotFound("product %d not found", productID))
		} else {
			respondError(c, apperrors.Internal(err))
		}
		return
	}
	c.JSON(http.StatusOK, productJSON(&product))
}

func decreaseStock(c *gin.Context) {
	productID, ok := parseIDParam(c, "productId")
	if !ok {
		return
	}

	var product models.Product
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&product, productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("product %d not found", productID)
			}
			return err
		}
		if product.StockQuantity <= 0 {
			return apperrors.Validation("product %d is out of stock", productID)
		}
		product.StockQuantity--
		product.IsAvailable = product.StockQuantity > 0
		return tx.Save(&product).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Stock decreased",
		"product": productJSON(&product),
	})
}

func getRobots(c *gin.Context) {
	query := db.Model(&models.Robot{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var robots []models.Robot
	if err := query.Order("id ASC").Find(&robots).Error; err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	items := make([]gin.H, len(robots))
	for i := range robots {
		items[i] = robotJSON(&robots[i])
	}
	c.JSON(http.StatusOK, gin.H{"robots": items})
}

func getRobot(c *gin.Context) {
	robotID, ok := parseIDParam(c, "robotId")
	if !ok {
		return
	}
	var robot models.Robot
	if err := db.First(&robot, robotID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, apperrors.NotFound("robot %d not found", robotID))
		} else {
			respondError(c, apperrors.Internal(err))
		}
		return
	}
	c.JSON(http.StatusOK, robotJSON(&robot))
}

func reserveRobot(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	robotID, ok := parseIDParam(c, "robotId")
	if !ok {
		return
	}

	var robot models.Robot
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&robot, robotID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("robot %d not found", robotID)
			}
			return err
		}
		if robot.Status == "reserved" {
			return apperrors.Validation("robot %d is already reserved", robotID)
		}
		robot.Status = "reserved"
		robot.OwnerID = &userID
		return tx.Save(&robot).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Robot reserved",
		"robot":   robotJSON(&robot),
	})
}

func releaseRobot(c *gin.Context) {
	robotID, ok := parseIDParam(c, "robotId")
	if !ok {
		return
	}

	var robot models.Robot
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&robot, robotID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("robot %d not found", robotID)
			}
			return err
		}
		robot.Status = "active"
		robot.OwnerID = nil
		return tx.Select("status", "owner_id").Save(&robot).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Robot released",
		"robot":   robotJSON(&robot),
	})
}

func productJSON(p *models.Product) gin.H {
	return gin.H{
		"productId":     p.ID,
		"name":          p.Name,
		"description":   p.Description,
		"category":      p.Category,
		"price":         p.Price,
		"isAvailable":   p.IsAvailable,
		"stockQuantity": p.StockQuantity,
	}
}

func robotJSON(r *models.Robot) gin.H {
	return gin.H{
		"robotId":      r.ID,
		"name":         r.Name,
		"model":        r.Model,
		"modelType":    r.ModelType,
		"status":       r.Status,
		"batteryLevel": r.BatteryLevel,
		"ownerId":      r.OwnerID,
	}
}

func paginationParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "10"))
	if err != nil || size < 1 || size > 100 {
		size = 10
	}
	return page, size
}

func requireUserID(c *gin.Context) (uint, bool) {
	raw := c.GetHeader("X-User-Id")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-Id header is required"})
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-Id header is invalid"})
		return 0, false
	}
	return uint(id), true
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return uint(id), true
}

func respondError(c *gin.Context, err error) {
	status := apperrors.StatusOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("catalog: %v", err)
	}
	c.JSON(status, gin.H{"error": apperrors.MessageOf(err)})
}

func healthCheck(ctx *gin.Context) {
	sqlDB, err := db.DB()
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database connection failed",
			"error":   err.Error(),
		})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database ping failed",
			"error":   err.Error(),
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"details": "Host localhost:8060 is active",
	})
}
