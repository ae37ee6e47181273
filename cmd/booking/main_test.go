package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"sealfleet/pkg/models"
	"sealfleet/pkg/pricing"
)

func setupTestDB(t *testing.T) *gorm.DB {
	testDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to connect test database: %v", err)
	}
	err = testDB.AutoMigrate(&models.User{}, &models.Product{}, &models.Robot{},
		&models.Booking{}, &models.Payment{})
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return testDB
}

func seedBookingFixtures(t *testing.T, testDB *gorm.DB) (models.User, models.Product, models.Robot) {
	user := models.User{Username: "diver7", Email: "diver7@example.com", Password: "x", FullName: "Diver Seven"}
	assert.NoError(t, testDB.Create(&user).Error)

	product := models.Product{Name: "CleanBot S2", Category: "Robot", Price: 25000000, IsAvailable: true, StockQuantity: 3}
	assert.NoError(t, testDB.Create(&product).Error)

	robot := models.Robot{Name: "SEAL-01", Model: "CB-200", ModelType: "CleanBot", Status: "active"}
	assert.NoError(t, testDB.Create(&robot).Error)

	return user, product, robot
}

func postJSON(t *testing.T, handler gin.HandlerFunc, path string, body interface{}, userID string, params gin.Params) *httptest.ResponseRecorder {
	jsonBody, err := json.Marshal(body)
	assert.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", path, bytes.NewBuffer(jsonBody))
	c.Request.Header.Set("Content-Type", "application/json")
	if userID != "" {
		c.Request.Header.Set("X-User-Id", userID)
	}
	c.Params = params

	handler(c)
	return w
}

func TestCreateRentalBooking(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db = setupTestDB(t)
	engine = pricing.NewEngine(1500000)
	user, _, robot := seedBookingFixtures(t, db)

	w := postJSON(t, createBooking, "/api/v1/bookings", map[string]interface{}{
		"bookingType":  "rental",
		"robotId":      robot.ID,
		"startDate":    "2024-01-01",
		"durationDays": 5,
	}, "1", nil)

	assert.Equal(t, http.StatusCreated, w.Code)

	var response map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	booking := response["booking"].(map[string]interface{})
	assert.Equal(t, float64(7500000), booking["totalCost"])
	assert.Equal(t, "pending", booking["status"])
	assert.True(t, strings.HasPrefix(booking["endDate"].(string), "2024-01-06"))

	var stored models.Booking
	assert.NoError(t, db.Where("user_id = ?", user.ID).First(&stored).Error)
	assert.Equal(t, int64(7500000), stored.TotalCost)
	assert.NotNil(t, stored.DurationDays)
	assert.Equal(t, 5, *stored.DurationDays)
	assert.NotNil(t, stored.EndDate)
	assert.True(t, stored.EndDate.Equal(stored.StartDate.AddDate(0, 0, 5)))
}

func TestCreateRentalBookingDefaultsToOneDay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db = setupTestDB(t)
	engine = pricing.NewEngine(1500000)
	_, _, robot := seedBookingFixtures(t, db)

	w := postJSON(t, createBooking, "/api/v1/bookings", map[string]interface{}{
		"bookingType": "rental",
		"robotId":     robot.ID,
		"startDate":   "2024-03-10",
	}, "1", nil)

	assert.Equal(t, http.StatusCreated, w.Code)

	var stored models.Booking
	assert.NoError(t, db.First(&stored).Error)
	assert.Equal(t, int64(1500000), stored.TotalCost)
	assert.Equal(t, 1, *stored.DurationDays)
}

func TestCreateRentalBookingClampsShortDurations(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db = setupTestDB(t)
	engine = pricing.NewEngine(1500000)
	_, _, robot := seedBookingFixtures(t, db)

	// Sub-day durations are billed as one day, not rejected.
	w := postJSON(t, createBooking, "/api/v1/bookings", map[string]interface{}{
		"bookingType":  "rental",
		"robotId":      robot.ID,
		"startDate":    "2024-03-10",
		"durationDays": 0,
	}, "1", nil)

	assert.Equal(t, http.StatusCreated, w.Code)

	var stored models.Booking
	assert.NoError(t, db.First(&stored).Error)
	assert.Equal(t, int64(1500000), stored.TotalCost)
	assert.Equal(t, 1, *stored.DurationDays)
	assert.True(t, stored.EndDate.Equal(stored.StartDate.AddDate(0, 0, 1)))
}

func TestCreatePurchaseBooking(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db = setupTestDB(t)
	engine = pricing.NewEngine(1500000)
	_, product, _ := seedBookingFixtures(t, db)

	w := postJSON(t, createBooking, "/api/v1/bookings", map[string]interface{}{
		"bookingType": "purchase",
		"productId":   product.ID,
		"startDate":   "2024-02-01T09:30:00Z",
	}, "1", nil)

	assert.Equal(t, http.StatusCreated, w.Code)

	var stored models.Booking
	assert.NoError(t, db.First(&stored).Error)
	assert.Equal(t, product.Price, stored.TotalCost)
	assert.Nil(t, stored.EndDate)
	assert.Nil(t, stored.DurationDays)
	assert.Nil(t, stored.RobotID)
	assert.NotNil(t, stored.ProductID)
}

func TestCreateBookingValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db = setupTestDB(t)
	engine = pricing.NewEngine(1500000)
	_, product, robot := seedBookingFixtures(t, db)

	cases := []struct {
		name string
		body map[string]interface{}
		code int
	}{
		{"invalid type", map[string]interface{}{
			"bookingType": "lease", "robotId": robot.ID, "startDate": "2024-01-01"}, http.StatusBadRequest},
		{"purchase without product", map[string]interface{}{
			"bookingType": "purchase", "startDate": "2024-01-01"}, http.StatusBadRequest},
		{"rental without robot", map[string]interface{}{
			"bookingType": "rental", "startDate": "2024-01-01"}, http.StatusBadRequest},
		{"malformed start date", map[string]interface{}{
			"bookingType": "rental", "robotId": robot.ID, "startDate": "01/02/2024"}, http.StatusBadRequest},
		{"unknown product", map[string]interface{}{
			"bookingType": "purchase", "productId": product.ID + 100, "startDate": "2024-01-01"}, http.StatusNotFound},
		{"unknown robot", map[string]interface{}{
			"bookingType": "rental", "robotId": robot.ID + 100, "startDate": "2024-01-01"}, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(t, createBooking, "/api/v1/bookings", tc.body, "1", nil)
			assert.Equal(t, tc.code, w.Code)
		})
	}
}

func TestCreateBookingMissingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db = setupTestDB(t)
	engine = pricing.NewEngine(1500000)

	w := postJSON(t, createBooking, "/api/v1/bookings", map[string]interface{}{
		"bookingType": "rental", "robotId": 1, "startDate": "2024-01-01"}, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBookingAuthorization(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db = setupTestDB(t)
	engine = pricing.NewEngine(1500000)
	user, _, robot := seedBookingFixtures(t, db)

	days := 2
	end := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	booking := models.Booking{
		UserID: user.ID, RobotID: &robot.ID, BookingType: "rental",
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   &end, DurationDays: &days, Status: "pending", TotalCost: 3000000,
	}
	assert.NoError(t, db.Create(&booking).Error)

	// Owner sees the booking.
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/bookings/1", nil)
	c.Request.Header.Set("X-User-Id", "1")
	c.Params = gin.Params{gin.Param{Key: "bookingId", Value: "1"}}
	getBooking(c)
	assert.Equal(t, http.StatusOK, w.Code)

	// Another user gets 403 and no booking data.
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/bookings/1", nil)
	c.Request.Header.Set("X-User-Id", "99")
	c.Params = gin.Params{gin.Param{Key: "bookingId", Value: "1"}}
	getBooking(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "totalCost")

	// Missing booking is 404.
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/bookings/42", nil)
	c.Request.Header.Set("X-User-Id", "1")
	c.Params = gin.Params{gin.Param{Key: "bookingId", Value: "42"}}
	getBooking(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBookingsStatusFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db = setupTestDB(t)
	engine = pricing.NewEngine(1500000)
	user, product, _ := seedBookingFixtures(t, db)

	for _, status := range []string{"pending", "confirmed"} {
		b := models.Booking{
			UserID: user.ID, ProductID: &product.ID, BookingType: "purchase",
			StartDate: time.Now(), Status: status, TotalCost: product.Price,
		}
		assert.NoError(t, db.Create(&b).Error)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/bookings?status=confirmed", nil)
	c.Request.Header.Set("X-User-Id", "1")
	getBookings(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string][]map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 1, len(response["bookings"]))
	assert.Equal(t, "confirmed", response["bookings"][0]["status"])
}

func TestCreatePaymentConfirmsBooking(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db = setupTestDB(t)
	engine = pricing.NewEngine(1500000)
	user, product, _ := seedBookingFixtures(t, db)

	booking := models.Booking{
		UserID: user.ID, ProductID: &product.ID, BookingType: "purchase",
		StartDate: time.Now(), Status: "pending", TotalCost: product.Price,
	}
	assert.NoError(t, db.Create(&booking).Error)

	// Catalog repricing after booking creation must not affect the payment.
	assert.NoError(t, db.Model(&models.Product{}).Where("id = ?", product.ID).
		Update("price", 99000000).Error)

	w := postJSON(t, createPayment, "/api/v1/bookings/1/payment", map[string]interface{}{
		"method": "e-wallet",
	}, "1", gin.Params{gin.Param{Key: "bookingId", Value: "1"}})

	assert.Equal(t, http.StatusCreated, w.Code)

	var response map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	payment := response["payment"].(map[string]interface{})
	assert.Equal(t, float64(25000000), payment["amount"])
	assert.Equal(t, "completed", payment["status"])
	assert.True(t, strings.HasPrefix(payment["transactionId"].(string), "TXN1-"))

	var stored models.Booking
	assert.NoError(t, db.First(&stored, booking.ID).Error)
	assert.Equal(t, "confirmed", stored.Status)
}

func TestCreatePaymentNotIdempotent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db = setupTestDB(t)
	engine = pricing.NewEngine(1500000)
	user, product, _ := seedBookingFixtures(t, db)

	booking := models.Booking{
		UserID: user.ID, ProductID: &product.ID, BookingType: "purchase",
		StartDate: time.Now(), Status: "pending", TotalCost: product.Price,
	}
	assert.NoError(t, db.Create(&booking).Error)

	params := gin.Params{gin.Param{Key: "bookingId", Value: "1"}}
	w1 := postJSON(t, createPayment, "/api/v1/bookings/1/payment", map[string]interface{}{}, "1", params)
	w2 := postJSON(t, createPayment, "/api/v1/bookings/1/payment", map[string]interface{}{}, "1", params)

	// Paying twice is accepted and creates two payment rows; this is the
	// current behavior of the platform and callers must not rely on the
	// endpoint being idempotent.
	assert.Equal(t, http.StatusCreated, w1.Code)
	assert.Equal(t, http.StatusCreated, w2.Code)

	var count int64
	db.Model(&models.Payment{}).Where("booking_id = ?", booking.ID).Count(&count)
	assert.Equal(t, int64(2), count)

	var stored models.Booking
	assert.NoError(t, db.First(&stored, booking.ID).Error)
	assert.Equal(t, "confirmed", stored.Status)
}

func TestCreatePaymentAuthorization(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db = setupTestDB(t)
	engine = pricing.NewEngine(1500000)
	user, product, _ := seedBookingFixtures(t, db)

	booking := models.Booking{
		UserID: user.ID, ProductID: &product.ID, BookingType: "purchase",
		StartDate: time.Now(), Status: "pending", TotalCost: product.Price,
	}
	assert.NoError(t, db.Create(&booking).Error)

	params := gin.Params{gin.Param{Key: "bookingId", Value: "1"}}
	w := postJSON(t, createPayment, "/api/v1/bookings/1/payment", map[string]interface{}{}, "42", params)
	assert.Equal(t, http.StatusForbidden, w.Code)

	params = gin.Params{gin.Param{Key: "bookingId", Value: "77"}}
	w = postJSON(t, createPayment, "/api/v1/bookings/77/payment", map[string]interface{}{}, "1", params)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var count int64
	db.Model(&models.Payment{}).Count(&count)
	assert.Equal(t, int64(0), count)
}
