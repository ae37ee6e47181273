package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"sealfleet/pkg/apperrors"
	"sealfleet/pkg/circuitbreaker"
	"sealfleet/pkg/database"
	"sealfleet/pkg/models"
	"sealfleet/pkg/queue"
	"sealfleet/pkg/token"
)

var (
	db *gorm.DB

	bookingServiceURL       string
	certificationServiceURL string
	catalogServiceURL       string
	httpClient              *http.Client

	jwtSecret   string
	tokenTTLMin int

	rdb        *redis.Client
	cacheTTL   = 60 * time.Second
	fulfilment *queue.Queue

	bookingBreaker       *circuitbreaker.CircuitBreaker
	certificationBreaker *circuitbreaker.CircuitBreaker
	catalogBreaker       *circuitbreaker.CircuitBreaker
)

func main() {
	_ = godotenv.Load()
	log.Println("Starting gateway service...")

	db = database.InitAuthDB()

	bookingServiceURL = getEnv("BOOKING_SERVICE_URL", "http://localhost:8070")
	certificationServiceURL = getEnv("CERTIFICATION_SERVICE_URL", "http://localhost:8050")
	catalogServiceURL = getEnv("CATALOG_SERVICE_URL", "http://localhost:8060")
	jwtSecret = getEnv("JWT_SECRET", "dev-secret-change-me")
	tokenTTLMin = getEnvInt("ACCESS_TOKEN_TTL_MIN", 60)

	httpClient = &http.Client{Timeout: 10 * time.Second}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("Redis unavailable, catalog cache disabled: %v", err)
		} else {
			rdb = client
			log.Printf("Catalog cache enabled via redis at %s", addr)
		}
	}

	fulfilment = queue.New()
	go drainFulfilmentQueue(5 * time.Second)

	bookingBreaker = circuitbreaker.New(5, 30*time.Second)
	certificationBreaker = circuitbreaker.New(5, 30*time.Second)
	catalogBreaker = circuitbreaker.New(5, 30*time.Second)

	r := gin.Default()

	r.POST("/api/v1/auth/register", register)
	r.POST("/api/v1/auth/login", login)

	r.GET("/api/v1/products", cachedCatalogProxy)
	r.GET("/api/v1/products/:id", cachedCatalogProxy)
	r.GET("/api/v1/robots", cachedCatalogProxy)
	r.GET("/api/v1/robots/:id", cachedCatalogProxy)
	r.GET("/api/v1/certification/modules", func(c *gin.Context) {
		forward(c, certificationServiceURL)
	})

	authorized := r.Group("/api/v1", authRequired)
	authorized.GET("/auth/me", me)
	authorized.POST("/bookings", func(c *gin.Context) { forward(c, bookingServiceURL) })
	authorized.GET("/bookings", func(c *gin.Context) { forward(c, bookingServiceURL) })
	authorized.GET("/bookings/:bookingId", func(c *gin.Context) { forward(c, bookingServiceURL) })
	authorized.POST("/bookings/:bookingId/payment", payBooking)
	authorized.GET("/certification/progress", func(c *gin.Context) { forward(c, certificationServiceURL) })
	authorized.POST("/certification/progress/:moduleId", func(c *gin.Context) { forward(c, certificationServiceURL) })
	authorized.POST("/certification/complete", func(c *gin.Context) { forward(c, certificationServiceURL) })
	authorized.GET("/dashboard", getDashboard)

	r.GET("/manage/health", healthCheck)

	log.Println("Gateway service starting on :8080")
	if err := r.Run(":8080"); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func register(c *gin.Context) {
	var request struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=6"`
		FullName string `json:"fullName"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, apperrors.Validation("invalid request: %v", err))
		return
	}

	hash, err := token.HashPassword(request.Password)
	if err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	user := models.User{
		Username: request.Username,
		Email:    request.Email,
		Password: hash,
		FullName: request.FullName,
		Role:     "customer",
	}
	if err := db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			respondError(c, apperrors.Conflict("username or email already taken"))
		} else {
			respondError(c, apperrors.Internal(err))
		}
		return
	}

	accessToken, err := token.NewAccessToken(jwtSecret, user.ID, user.Role, tokenTTLMin)
	if err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token": accessToken,
		"user":  userJSON(&user),
	})
}

func login(c *gin.Context) {
	var request struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, apperrors.Validation("invalid request: %v", err))
		return
	}

	var user models.User
	err := db.Where("username = ?", request.Username).First(&user).Error
	if err != nil || !token.CheckPassword(user.Password, request.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	accessToken, err := token.NewAccessToken(jwtSecret, user.ID, user.Role, tokenTTLMin)
	if err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": accessToken,
		"user":  userJSON(&user),
	})
}

func me(c *gin.Context) {
	var user models.User
	if err := db.First(&user, c.GetUint("userID")).Error; err != nil {
		respondError(c, apperrors.NotFound("user not found"))
		return
	}
	c.JSON(http.StatusOK, userJSON(&user))
}

func authRequired(c *gin.Context) {
	header := c.GetHeader("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	identity, err := token.ParseAccessToken(jwtSecret, raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}
	c.Set("userID", identity.UserID)
	c.Set("userRole", identity.Role)
	c.Next()
}

// forward proxies the current request to a downstream service, translating
// the authenticated identity into the headers the services trust.
func forward(c *gin.Context, serviceURL string) {
	url := serviceURL + c.Request.URL.Path
	if params := c.Request.URL.Query().Encode(); params != "" {
		url += "?" + params
	}

	var body io.Reader
	if c.Request.Body != nil {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read request body"})
			return
		}
		body = bytes.NewBuffer(data)
	}

	request, err := http.NewRequest(c.Request.Method, url, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create request"})
		return
	}
	request.Header.Set("Content-Type", "application/json")
	if userID := c.GetUint("userID"); userID != 0 {
		request.Header.Set("X-User-Id", strconv.FormatUint(uint64(userID), 10))
		request.Header.Set("X-User-Role", c.GetString("userRole"))
	}

	response, err := httpClient.Do(request)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "downstream service unavailable"})
		return
	}
	defer response.Body.Close()
	data, err := io.ReadAll(response.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read response"})
		return
	}
	c.Data(response.StatusCode, "application/json", data)
}

// cachedCatalogProxy serves catalog reads through redis when it is
// configured. Catalog data changes rarely, so short staleness is fine.
func cachedCatalogProxy(c *gin.Context) {
	key := "catalog:" + c.Request.URL.Path
	if params := c.Request.URL.Query().Encode(); params != "" {
		key += "?" + params
	}

	if rdb != nil {
		cached, err := rdb.Get(c.Request.Context(), key).Result()
		if err == nil {
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, "application/json", []byte(cached))
			return
		}
	}

	url := catalogServiceURL + c.Request.URL.Path
	if params := c.Request.URL.Query().Encode(); params != "" {
		url += "?" + params
	}
	request, err := http.NewRequest("GET", url, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create request"})
		return
	}
	response, err := httpClient.Do(request)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog service unavailable"})
		return
	}
	defer response.Body.Close()
	data, err := io.ReadAll(response.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read response"})
		return
	}

	if rdb != nil && response.StatusCode == http.StatusOK {
		if err := rdb.Set(c.Request.Context(), key, data, cacheTTL).Err(); err != nil {
			log.Printf("Failed to cache %s: %v", key, err)
		}
	}
	c.Header("X-Cache", "MISS")
	c.Data(response.StatusCode, "application/json", data)
}

// payBooking proxies the payment to the booking service and, when it
// succeeds, fulfils the booking against the catalog: purchases consume
// stock, rentals reserve the robot. Catalog failures do not fail the
// payment; the task is queued and retried in the background.
func payBooking(c *gin.Context) {
	userID := c.GetUint("userID")
	bookingID := c.Param("bookingId")

	var requestBody []byte
	if c.Request.Body != nil {
		requestBody, _ = io.ReadAll(c.Request.Body)
	}

	url := fmt.Sprintf("%s/api/v1/bookings/%s/payment", bookingServiceURL, bookingID)
	request, err := http.NewRequest("POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create request"})
		return
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("X-User-Id", strconv.FormatUint(uint64(userID), 10))
	request.Header.Set("X-User-Role", c.GetString("userRole"))

	response, err := httpClient.Do(request)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "booking service unavailable"})
		return
	}
	defer response.Body.Close()
	data, err := io.ReadAll(response.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read response"})
		return
	}

	if response.StatusCode == http.StatusCreated {
		if task := fulfilmentTaskFor(bookingID, userID); task != nil {
			if err := runFulfilmentTask(task); err != nil {
				log.Printf("Fulfilment failed for booking %s, queued for retry: %v", bookingID, err)
				task.RetryAt = time.Now().Add(5 * time.Second)
				fulfilment.Enqueue(task)
			}
		}
	}
	c.Data(response.StatusCode, "application/json", data)
}

// fulfilmentTaskFor looks up the paid booking and derives the catalog
// action it requires. A nil return means nothing to fulfil.
func fulfilmentTaskFor(bookingID string, userID uint) *queue.Task {
	url := fmt.Sprintf("%s/api/v1/bookings/%s", bookingServiceURL, bookingID)
	request, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil
	}
	request.Header.Set("X-User-Id", strconv.FormatUint(uint64(userID), 10))

	response, err := httpClient.Do(request)
	if err != nil {
		return nil
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil
	}

	var booking struct {
		BookingID   uint   `json:"bookingId"`
		BookingType string `json:"bookingType"`
		ProductID   *uint  `json:"productId"`
		RobotID     *uint  `json:"robotId"`
	}
	if err := json.NewDecoder(response.Body).Decode(&booking); err != nil {
		return nil
	}

	task := &queue.Task{BookingID: booking.BookingID, UserID: userID, MaxRetries: 5}
	switch {
	case booking.BookingType == "purchase" && booking.ProductID != nil:
		task.Kind = queue.TaskDecreaseStock
		task.TargetID = *booking.ProductID
	case booking.BookingType == "rental" && booking.RobotID != nil:
		task.Kind = queue.TaskReserveRobot
		task.TargetID = *booking.RobotID
	default:
		return nil
	}
	return task
}

func runFulfilmentTask(t *queue.Task) error {
	var url string
	switch t.Kind {
	case queue.TaskDecreaseStock:
		url = fmt.Sprintf("%s/api/v1/products/%d/decrease-stock", catalogServiceURL, t.TargetID)
	case queue.TaskReserveRobot:
		url = fmt.Sprintf("%s/api/v1/robots/%d/reserve", catalogServiceURL, t.TargetID)
	default:
		return fmt.Errorf("unknown fulfilment task kind %q", t.Kind)
	}

	request, err := http.NewRequest("POST", url, nil)
	if err != nil {
		return err
	}
	request.Header.Set("X-User-Id", strconv.FormatUint(uint64(t.UserID), 10))

	response, err := httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog returned status %d", response.StatusCode)
	}
	return nil
}

func drainFulfilmentQueue(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		for {
			task := fulfilment.Dequeue()
			if task == nil {
				break
			}
			if err := runFulfilmentTask(task); err != nil {
				if !fulfilment.Requeue(task, 10*time.Second) {
					log.Printf("Giving up on %s for booking %d after %d attempts",
						task.Kind, task.BookingID, task.Attempts)
				}
				continue
			}
			log.Printf("Fulfilled %s for booking %d", task.Kind, task.BookingID)
		}
	}
}

// getDashboard aggregates the caller's bookings, certification progress and
// the robot fleet in one response. Each downstream sits behind its own
// circuit breaker; an unavailable service degrades its section instead of
// failing the whole dashboard.
func getDashboard(c *gin.Context) {
	userID := c.GetUint("userID")
	headers := map[string]string{
		"X-User-Id":   strconv.FormatUint(uint64(userID), 10),
		"X-User-Role": c.GetString("userRole"),
	}

	degraded := false

	var bookings interface{}
	err := bookingBreaker.Execute(func() error {
		result, err := fetchJSON(bookingServiceURL+"/api/v1/bookings", headers)
		if err != nil {
			return err
		}
		bookings = result["bookings"]
		return nil
	}, func() error {
		degraded = true
		return nil
	})
	if err != nil {
		degraded = true
	}

	var certification interface{}
	err = certificationBreaker.Execute(func() error {
		result, err := fetchJSON(certificationServiceURL+"/api/v1/certification/progress", headers)
		if err != nil {
			return err
		}
		certification = result
		return nil
	}, func() error {
		degraded = true
		return nil
	})
	if err != nil {
		degraded = true
	}

	var robots interface{}
	err = catalogBreaker.Execute(func() error {
		result, err := fetchJSON(catalogServiceURL+"/api/v1/robots", nil)
		if err != nil {
			return err
		}
		robots = result["robots"]
		return nil
	}, func() error {
		degraded = true
		return nil
	})
	if err != nil {
		degraded = true
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":        userID,
		"bookings":      bookings,
		"certification": certification,
		"robots":        robots,
		"degraded":      degraded,
	})
}

func fetchJSON(url string, headers map[string]string) (map[string]interface{}, error) {
	request, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", response.StatusCode, url)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

func userJSON(u *models.User) gin.H {
	return gin.H{
		"userId":      u.ID,
		"username":    u.Username,
		"email":       u.Email,
		"fullName":    u.FullName,
		"role":        u.Role,
		"isCertified": u.IsCertified,
	}
}

func respondError(c *gin.Context, err error) {
	status := apperrors.StatusOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("gateway: %v", err)
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
		"details": "Host localhost:8080 is active",
	})
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
