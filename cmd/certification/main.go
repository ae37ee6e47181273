package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"sealfleet/pkg/apperrors"
	"sealfleet/pkg/database"
	"sealfleet/pkg/models"
)

var db *gorm.DB

func main() {
	_ = godotenv.Load()
	log.Println("Starting certification service...")

	db = database.InitCertificationDB()
	seedModules()

	server := gin.Default()
	server.GET("/api/v1/certification/modules", getModules)
	server.GET("/api/v1/certification/progress", getProgress)
	server.POST("/api/v1/certification/progress/:moduleId", updateProgress)
	server.POST("/api/v1/certification/complete", completeCertification)
	server.GET("/manage/health", healthCheck)

	log.Println("Certification service starting on :8050")
	if err := server.Run(":8050"); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// seedModules installs the operator training curriculum. Modules are keyed
// by module_number so restarts never duplicate them.
func seedModules() {
	modules := []models.CertificationModule{
		{ModuleNumber: 1, Title: "Robot Fundamentals", DurationMinutes: 45,
			Description: "CleanBot hardware, sensors and the operator console", OrderIndex: 1},
		{ModuleNumber: 2, Title: "Navigation and Mapping", DurationMinutes: 60,
			Description: "Route planning, Vision AI mapping and obstacle handling", OrderIndex: 2},
		{ModuleNumber: 3, Title: "Maintenance and Safety", DurationMinutes: 50,
			Description: "Filter and brush service, battery care, incident response", OrderIndex: 3},
		{ModuleNumber: 4, Title: "Advanced Operations", DurationMinutes: 90,
			Description: "Fleet scheduling, multi-zone cleaning and reporting", OrderIndex: 4},
	}
	for _, module := range modules {
		var existing models.CertificationModule
		err := db.Where("module_number = ?", module.ModuleNumber).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := db.Create(&module).Error; err != nil {
				log.Printf("Failed to seed module %d: %v", module.ModuleNumber, err)
			}
		}
	}
	log.Println("Certification modules seeded")
}

func getModules(c *gin.Context) {
	var modules []models.CertificationModule
	if err := db.Order("order_index ASC").Find(&modules).Error; err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	items := make([]gin.H, len(modules))
	for i := range modules {
		items[i] = moduleJSON(&modules[i])
	}
	c.JSON(http.StatusOK, gin.H{"modules": items})
}

func getProgress(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var modules []models.CertificationModule
	if err := db.Order("order_index ASC").Find(&modules).Error; err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	var rows []models.UserCertificationProgress
	if err := db.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}
	byModule := make(map[uint]*models.UserCertificationProgress, len(rows))
	for i := range rows {
		byModule[rows[i].ModuleID] = &rows[i]
	}

	// Every module contributes to the overall percentage. Modules the
	// operator never opened count as zero.
	total := 0
	completedCount := 0
	items := make([]gin.H, len(modules))
	for i := range modules {
		item := gin.H{
			"moduleId":           modules[i].ID,
			"moduleNumber":       modules[i].ModuleNumber,
			"title":              modules[i].Title,
			"progressPercentage": 0,
			"completed":          false,
			"completedAt":        nil,
		}
		if row, found := byModule[modules[i].ID]; found {
			total += row.ProgressPercentage
			if row.Completed {
				completedCount++
			}
			item["progressPercentage"] = row.ProgressPercentage
			item["completed"] = row.Completed
			if row.CompletedAt != nil {
				item["completedAt"] = row.CompletedAt.Format(time.RFC3339)
			}
		}
		items[i] = item
	}

	overall := 0
	if len(modules) > 0 {
		overall = total / len(modules)
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":            userID,
		"modules":           items,
		"overallPercentage": overall,
		"completedModules":  completedCount,
		"totalModules":      len(modules),
		"isCertified":       overall == 100,
	})
}

func updateProgress(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	moduleID, ok := parseIDParam(c, "moduleId")
	if !ok {
		return
	}

	var request struct {
		ProgressPercentage *int `json:"progressPercentage" binding:"required"`
		Completed          bool `json:"completed"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, apperrors.Validation("progressPercentage is required"))
		return
	}
	if *request.ProgressPercentage < 0 || *request.ProgressPercentage > 100 {
		respondError(c, apperrors.Validation("progressPercentage must be between 0 and 100"))
		return
	}

	var module models.CertificationModule
	if err := db.First(&module, moduleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, apperrors.NotFound("module %d not found", moduleID))
		} else {
			respondError(c, apperrors.Internal(err))
		}
		return
	}

	user, err := loadUser(userID)
	if err != nil {
		respondError(c, err)
		return
	}

	var progress *models.UserCertificationProgress
	var certificate *models.Certificate
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		progress, _, txErr = findOrCreateProgress(tx, userID, module.ID)
		if txErr != nil {
			return txErr
		}

		progress.ProgressPercentage = *request.ProgressPercentage
		// The completed flag is the caller's statement, stored as given:
		// a module can sit at 80% completed or at 100% not completed.
		progress.Completed = request.Completed
		// completed_at records the first completion and survives later
		// downgrades.
		if progress.Completed && progress.CompletedAt == nil {
			now := time.Now().UTC()
			progress.CompletedAt = &now
		}
		if txErr := tx.Save(progress).Error; txErr != nil {
			return txErr
		}

		if !progress.Completed || user.IsCertified {
			return nil
		}
		done, txErr := hasCompletedAllModules(tx, userID)
		if txErr != nil || !done {
			return txErr
		}
		certificate, txErr = issueCertificate(tx, user)
		return txErr
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response := gin.H{
		"message":  "Progress updated",
		"progress": progressJSON(progress),
	}
	if certificate != nil {
		response["message"] = "Certification complete"
		response["certificate"] = certificateJSON(certificate)
	}
	c.JSON(http.StatusOK, response)
}

func completeCertification(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	user, err := loadUser(userID)
	if err != nil {
		respondError(c, err)
		return
	}

	var modules []models.CertificationModule
	if err := db.Find(&modules).Error; err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	var certificate *models.Certificate
	err = db.Transaction(func(tx *gorm.DB) error {
		for i := range modules {
			progress, _, txErr := findOrCreateProgress(tx, userID, modules[i].ID)
			if txErr != nil {
				return txErr
			}
			progress.ProgressPercentage = 100
			progress.Completed = true
			if progress.CompletedAt == nil {
				now := time.Now().UTC()
				progress.CompletedAt = &now
			}
			if txErr := tx.Save(progress).Error; txErr != nil {
				return txErr
			}
		}
		var txErr error
		certificate, txErr = issueCertificate(tx, user)
		return txErr
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     "Certification complete",
		"certificate": certificateJSON(certificate),
	})
}

func findOrCreateProgress(tx *gorm.DB, userID, moduleID uint) (*models.UserCertificationProgress, bool, error) {
	var progress models.UserCertificationProgress
	err := tx.Where("user_id = ? AND module_id = ?", userID, moduleID).First(&progress).Error
	if err == nil {
		return &progress, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	progress = models.UserCertificationProgress{UserID: userID, ModuleID: moduleID}
	if err := tx.Create(&progress).Error; err != nil {
		return nil, false, err
	}
	return &progress, true, nil
}

func hasCompletedAllModules(tx *gorm.DB, userID uint) (bool, error) {
	var moduleIDs []uint
	if err := tx.Model(&models.CertificationModule{}).Pluck("id", &moduleIDs).Error; err != nil {
		return false, err
	}
	if len(moduleIDs) == 0 {
		return false, nil
	}

	var completedIDs []uint
	err := tx.Model(&models.UserCertificationProgress{}).
		Where("user_id = ? AND completed = ?", userID, true).
		Pluck("module_id", &completedIDs).Error
	if err != nil {
		return false, err
	}

	completed := make(map[uint]bool, len(completedIDs))
	for _, id := range completedIDs {
		completed[id] = true
	}
	for _, id := range moduleIDs {
		if !completed[id] {
			return false, nil
		}
	}
	return true, nil
}

// issueCertificate writes a new operator certificate and marks the user as
// certified. Callers decide whether issuance is gated on is_certified.
func issueCertificate(tx *gorm.DB, user *models.User) (*models.Certificate, error) {
	now := time.Now().UTC()
	expiry := now.AddDate(2, 0, 0)
	certificate := models.Certificate{
		UserID:     user.ID,
		CertType:   "Operator Certification",
		IssuedDate: now,
		ExpiryDate: &expiry,
		Status:     "active",
		CertNumber: fmt.Sprintf("SEAL-%d-%s", user.ID, uuid.New().String()),
	}
	if err := tx.Create(&certificate).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.Conflict("duplicate certificate number")
		}
		return nil, err
	}
	err := tx.Model(&models.User{}).Where("id = ?", user.ID).
		Update("is_certified", true).Error
	if err != nil {
		return nil, err
	}
	return &certificate, nil
}

func loadUser(userID uint) (*models.User, error) {
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("user %d not found", userID)
		}
		return nil, apperrors.Internal(err)
	}
	return &user, nil
}

func moduleJSON(m *models.CertificationModule) gin.H {
	return gin.H{
		"moduleId":        m.ID,
		"moduleNumber":    m.ModuleNumber,
		"title":           m.Title,
		"durationMinutes": m.DurationMinutes,
		"description":     m.Description,
		"orderIndex":      m.OrderIndex,
	}
}

func progressJSON(p *models.UserCertificationProgress) gin.H {
	item := gin.H{
		"userId":             p.UserID,
		"moduleId":           p.ModuleID,
		"progressPercentage": p.ProgressPercentage,
		"completed":          p.Completed,
		"completedAt":        nil,
	}
	if p.CompletedAt != nil {
		item["completedAt"] = p.CompletedAt.Format(time.RFC3339)
	}
	return item
}

func certificateJSON(cert *models.Certificate) gin.H {
	item := gin.H{
		"certificateId": cert.ID,
		"userId":        cert.UserID,
		"certType":      cert.CertType,
		"certNumber":    cert.CertNumber,
		"issuedDate":    cert.IssuedDate.Format(time.RFC3339),
		"expiryDate":    nil,
		"status":        cert.Status,
	}
	if cert.ExpiryDate != nil {
		item["expiryDate"] = cert.ExpiryDate.Format(time.RFC3339)
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
		log.Printf("certification: %v", err)
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
		"details": "Host localhost:8050 is active",
	})
}
