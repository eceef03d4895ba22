package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"poi-server/handlers"
	"poi-server/middleware"
	"poi-server/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is not set")
	}
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		log.Fatal("MONGODB_URI environment variable is not set")
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		log.Fatal("REDIS_ADDR environment variable is not set")
	}
	redisDB := 0
	if s := os.Getenv("REDIS_DB"); s != "" {
		db, err := strconv.Atoi(s)
		if err != nil {
			log.Fatalf("Invalid REDIS_DB value: %v", err)
		}
		redisDB = db
	}

	// Connect to MongoDB
	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(mongoURI))
	if err != nil {
		log.Fatalf("MongoDB connection failed: %v", err)
	}
	if err := mongoClient.Ping(context.Background(), nil); err != nil {
		log.Fatalf("Failed to ping MongoDB: %v", err)
	}
	log.Println("Connected to MongoDB")

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr, DB: redisDB})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis")

	// Geocoding providers: Google first when configured, Mapbox as fallback.
	geocodeService := services.NewGeocodeService(
		services.NewRedisGeocodeCache(redisClient),
		services.NewGoogleProvider(os.Getenv("GOOGLE_MAPS_API_KEY"), nil),
		services.NewMapboxProvider(os.Getenv("MAPBOX_ACCESS_TOKEN"), nil),
	)

	storeService := services.NewStoreService(services.NewMongoKVStore(mongoClient, "poi_db"))
	extractService := services.NewExtractService(geocodeService)
	kmlService := services.NewKMLService(extractService)
	importService := services.NewImportService(storeService, services.NewRedisStaging(redisClient), geocodeService, kmlService)
	adminService := services.NewAdminService(mongoClient, "poi_db", jwtSecret)

	authHandler := handlers.NewAuthHandler(adminService)
	importHandler := handlers.NewImportHandler(importService)
	poiHandler := handlers.NewPOIHandler(storeService, importService)
	categoryHandler := handlers.NewCategoryHandler(storeService)
	geocodeHandler := handlers.NewGeocodeHandler(importService, geocodeService)

	r := mux.NewRouter()
	r.Use(middleware.ErrorMiddleware())

	// CORS middleware
	allowedOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if s := os.Getenv("ALLOWED_ORIGINS"); s != "" {
		allowedOrigins = strings.Split(s, ",")
	}
	r.Use(middleware.CORSMiddleware(allowedOrigins))

	// Auth routes
	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/register", authHandler.RegisterAdmin).Methods("POST", "OPTIONS")
	authRouter.HandleFunc("/login", authHandler.LoginAdmin).Methods("POST", "OPTIONS")

	// Public map data for the rendering client
	r.HandleFunc("/map-data", poiHandler.GetMapData).Methods("GET", "OPTIONS")

	// Admin routes
	adminRouter := r.PathPrefix("/admin").Subrouter()
	adminRouter.Use(middleware.JWTMiddleware(jwtSecret))
	adminRouter.HandleFunc("/import", importHandler.UploadImport).Methods("POST", "OPTIONS")
	adminRouter.HandleFunc("/import/commit", importHandler.CommitImport).Methods("POST", "OPTIONS")
	adminRouter.HandleFunc("/pois", poiHandler.SavePOI).Methods("POST", "OPTIONS")
	adminRouter.HandleFunc("/pois/bulk-delete", poiHandler.BulkDeletePOIs).Methods("POST", "OPTIONS")
	adminRouter.HandleFunc("/pois/move", poiHandler.MovePOIs).Methods("POST", "OPTIONS")
	adminRouter.HandleFunc("/categories", categoryHandler.ListCategories).Methods("GET", "OPTIONS")
	adminRouter.HandleFunc("/categories", categoryHandler.SaveCategory).Methods("POST", "PUT", "OPTIONS")
	adminRouter.HandleFunc("/categories/{key}", categoryHandler.DeleteCategory).Methods("DELETE", "OPTIONS")
	adminRouter.HandleFunc("/geocode/reverse-pass", geocodeHandler.ReverseGeocodePass).Methods("POST", "OPTIONS")
	adminRouter.HandleFunc("/geocode/clear-cache", geocodeHandler.ClearCache).Methods("POST", "OPTIONS")
	adminRouter.HandleFunc("/activity", poiHandler.GetActivity).Methods("GET", "OPTIONS")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Server starting on :%s", port)
	log.Fatal(http.ListenAndServe(":"+port, r))
}
