package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"sealfleet/pkg/apperrors"
	"sealfleet/pkg/database"
	"sealfleet/pkg/models"
	"sealfleet/pkg/pricing"
)

var (
	db     *gorm.DB
	engine *pricing.Engine
)

func main() {
	_ = godotenv.Load()
	log.Println("Starting booking service...")

	db = database.InitBookingDB()
	engine = pricing.NewEngine(getEnvInt64("RENTAL_PRICE_PER_DAY", pricing.DefaultRentalPricePerDay))
	log.Printf("Rental price per day: %d", engine.RentalPricePerDay)

	server := gin.Default()
	server.POST("/api/v1/bookings", createBooking)
	server.GET("/api/v1/bookings", getBookings)
	server.GET("/api/v1/bookings/:bookingId", getBooking)
	server.POST("/api/v1/bookings/:bookingId/payment", createPayment)
	server.GET("/manage/health", healthCheck)

	log.Println("Booking service starting on :8070")
	if err := server.Run(":8070"); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func createBooking(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var request struct {
		BookingType  string `json:"bookingType" binding:"required"`
		StartDate    string `json:"startDate" binding:"required"`
		DurationDays *int   `json:"durationDays"`
		ProductID    *uint  `json:"productId"`
		RobotID      *uint  `json:"robotId"`
		Location     string `json:"location"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, apperrors.Validation("invalid request: %v", err))
		return
	}

	if request.BookingType != "rental" && request.BookingType != "purchase" {
		respondError(c, apperrors.Validation("bookingType must be \"rental\" or \"purchase\""))
		return
	}

	startDate, err := parseStartDate(request.StartDate)
	if err != nil {
		respondError(c, err)
		return
	}

	booking := models.Booking{
		UserID:      userID,
		BookingType: request.BookingType,
		StartDate:   startDate,
		Location:    request.Location,
		Status:      "pending",
	}

	switch request.BookingType {
	case "purchase":
		if request.ProductID == nil {
			respondError(c, apperrors.Validation("productId is required for purchase"))
			return
		}
		var product models.Product
		if err := db.First(&product, *request.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				respondError(c, apperrors.NotFound("product %d not found", *request.ProductID))
			} else {
				respondError(c, apperrors.Internal(err))
			}
			return
		}
		booking.ProductID = request.ProductID
		booking.TotalCost = engine.PurchaseCost(&product)

	case "rental":
		if request.RobotID == nil {
			respondError(c, apperrors.Validation("robotId is required for rental"))
			return
		}
		var robot models.Robot
		if err := db.First(&robot, *request.RobotID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				respondError(c, apperrors.NotFound("robot %d not found", *request.RobotID))
			} else {
				respondError(c, apperrors.Internal(err))
			}
			return
		}
		// Durations below one day are billed as one day, same rule as the
		// pricing engine.
		days := 1
		if request.DurationDays != nil && *request.DurationDays > 1 {
			days = *request.DurationDays
		}
		endDate := startDate.AddDate(0, 0, days)
		booking.RobotID = request.RobotID
		booking.DurationDays = &days
		booking.EndDate = &endDate
		booking.TotalCost = engine.RentalCost(days)
	}

	if err := db.Create(&booking).Error; err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Booking created successfully",
		"booking": bookingJSON(&booking),
	})
}

func getBookings(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	query := db.Where("user_id = ?", userID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var bookings []models.Booking
	if err := query.Order("created_at DESC").Find(&bookings).Error; err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	items := make([]gin.H, len(bookings))
	for i := range bookings {
		items[i] = bookingJSON(&bookings[i])
	}
	c.JSON(http.StatusOK, gin.H{"bookings": items})
}

func getBooking(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	bookingID, ok := parseIDParam(c, "bookingId")
	if !ok {
		return
	}

	booking, err := loadOwnedBooking(bookingID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookingJSON(booking))
}

func createPayment(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	bookingID, ok := parseIDParam(c, "bookingId")
	if !ok {
		return
	}

	var request struct {
		Method string `json:"method"`
	}
	_ = c.ShouldBindJSON(&request)
	if request.Method == "" {
		request.Method = "credit-card"
	}

	booking, err := loadOwnedBooking(bookingID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	now := time.Now().UTC()
	payment := models.Payment{
		BookingID: booking.ID,
		// Amount is copied from the booking, not recomputed, so later
		// catalog price changes never move an agreed amount.
		Amount:        booking.TotalCost,
		Method:        request.Method,
		Status:        "completed",
		PaidAt:        &now,
		TransactionID: fmt.Sprintf("TXN%d-%s", booking.ID, uuid.New().String()),
	}

	// Payment is simulated and synchronous: it always succeeds and always
	// confirms the booking, even one that is already confirmed. Repeat
	// calls therefore create additional payment rows.
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperrors.Conflict("duplicate transaction id")
			}
			return err
		}
		return tx.Model(&models.Booking{}).Where("id = ?", booking.ID).
			Update("status", "confirmed").Error
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Payment successful",
		"payment": paymentJSON(&payment),
	})
}

func loadOwnedBooking(bookingID, userID uint) (*models.Booking, error) {
	var booking models.Booking
	if err := db.First(&booking, bookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("booking %d not found", bookingID)
		}
		return nil, apperrors.Internal(err)
	}
	if booking.UserID != userID {
		return nil, apperrors.Authorization("booking belongs to another user")
	}
	return &booking, nil
}

// parseStartDate accepts RFC3339 timestamps as well as plain dates.
func parseStartDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, apperrors.Validation("startDate must be an ISO-8601 timestamp")
}

func bookingJSON(b *models.Booking) gin.H {
	item := gin.H{
		"bookingId":    b.ID,
		"userId":       b.UserID,
		"robotId":      b.RobotID,
		"productId":    b.ProductID,
		"bookingType":  b.BookingType,
		"startDate":    b.StartDate.Format(time.RFC3339),
		"endDate":      nil,
		"durationDays": b.DurationDays,
		"location":     b.Location,
		"status":       b.Status,
		"totalCost":    b.TotalCost,
		"createdAt":    b.CreatedAt.Format(time.RFC3339),
	}
	if b.EndDate != nil {
		item["endDate"] = b.EndDate.Format(time.RFC3339)
	}
	return item
}

func paymentJSON(p *models.Payment) gin.H {
	item := gin.H{
		"paymentId":     p.ID,
		"bookingId":     p.BookingID,
		"amount":        p.Amount,
		"method":        p.Method,
		"status":        p.Status,
		"paidAt":        nil,
		"transactionId": p.TransactionID,
	}
	if p.PaidAt != nil {
		item["paidAt"] = p.PaidAt.Format(time.RFC3339)
	}
	return item
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
		log.Printf("booking: %v", err)
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
		"details": "Host localhost:8070 is active",
	})
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
