package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"sealfleet/pkg/models"
)

// Each service migrates only the tables it owns. The services share one
// logical database by default (DB_NAME=sealfleet), matching the monolith
// schema the platform started with.

func InitBookingDB() *gorm.DB {
	return initDB(dsnFromEnv("sealfleet"),
		&models.User{}, &models.Product{}, &models.Robot{},
		&models.Booking{}, &models.Payment{})
}

func InitCertificationDB() *gorm.DB {
	return initDB(dsnFromEnv("sealfleet"),
		&models.User{}, &models.CertificationModule{},
		&models.UserCertificationProgress{}, &models.Certificate{})
}

func InitCatalogDB() *gorm.DB {
	return initDB(dsnFromEnv("sealfleet"),
		&models.Product{}, &models.Robot{})
}

func InitAuthDB() *gorm.DB {
	return initDB(dsnFromEnv("sealfleet"), &models.User{})
}

func dsnFromEnv(defaultName string) string {
	host := getEnv("DB_HOST", "postgres")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "program")
	password := getEnv("DB_PASSWORD", "test")
	dbname := getEnv("DB_NAME", defaultName)

	log.Printf("Connecting to database: %s@%s:%s/%s", user, host, port, dbname)
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		host, user, password, dbname, port)
}

func initDB(dsn string, tables ...interface{}) *gorm.DB {
	var db *gorm.DB
	var err error

	maxRetries := 10
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
		if err == nil {
			break
		}
		log.Printf("Database connection attempt %d/%d failed: %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(5 * time.Second)
		}
	}
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("Database ping failed: %v", err)
	}

	if err := db.AutoMigrate(tables...); err != nil {
		log.Fatalf("Database migration failed: %v", err)
	}

	log.Println("Database connection established successfully")
	return db
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
