package services

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"poi-server/models"
	"poi-server/utils/errors"
)

type AdminService struct {
	collection *mongo.Collection
	jwtSecret  string
}

func NewAdminService(client *mongo.Client, database, jwtSecret string) *AdminService {
	collection := client.Database(database).Collection("admins")

	// Ensure unique index on username and email
	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}, {Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := collection.Indexes().CreateOne(context.Background(), indexModel)
	if err != nil {
		log.Printf("Failed to create unique index on admins: %v", err)
	}

	return &AdminService{collection: collection, jwtSecret: jwtSecret}
}

// Register creates a new admin account
func (s *AdminService) Register(ctx context.Context, username, email, password string) (string, error) {
	if username == "" || password == "" {
		return "", errors.ErrInvalidInput
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "HASH_ERROR", "failed to hash password", http.StatusInternalServerError)
	}

	admin := models.Admin{
		ID:           primitive.NewObjectID().Hex(),
		PublicID:     uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(passwordHash),
	}

	_, err = s.collection.InsertOne(ctx, admin)
	if err != nil {
		return "", errors.Wrap(err, "DB_ERROR", "failed to create admin account", http.StatusInternalServerError)
	}

	return admin.PublicID, nil
}

// Login authenticates an admin and returns a JWT
func (s *AdminService) Login(ctx context.Context, username, password string) (string, error) {
	var admin models.Admin
	err := s.collection.FindOne(ctx, bson.M{"username": username}).Decode(&admin)
	if err != nil {
		return "", errors.ErrNotFound
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return "", errors.NewAPIError("INVALID_CREDENTIALS", "Invalid username or password", http.StatusUnauthorized)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"adminID":  admin.PublicID,
		"username": admin.Username,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", errors.Wrap(err, "JWT_ERROR", "Failed to generate token", http.StatusInternalServerError)
	}

	return tokenString, nil
}
