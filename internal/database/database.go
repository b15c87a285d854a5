package database

import (
	"context"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var Client *mongo.Client
var DB *mongo.Database

const defaultMongoDatabase = "workbridge"

// Connect opens the MongoDB client. dbName overrides the database named in
// the URI path; both empty falls back to "workbridge".
func Connect(mongoURI, dbName string) error {
	// Use longer timeout for Atlas connections
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(mongoURI)
	clientOptions.SetServerSelectionTimeout(10 * time.Second)

	log.Printf("Attempting to connect to MongoDB...")
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return err
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return err
	}

	Client = client
	if dbName == "" {
		dbName = databaseFromURI(mongoURI)
	}
	DB = client.Database(dbName)

	log.Printf("✅ Connected to MongoDB (database %s)", dbName)
	return nil
}

// databaseFromURI extracts the path segment of mongodb://host/name?opts.
func databaseFromURI(uri string) string {
	rest := uri
	if i := strings.Index(rest, "://"); i != -1 {
		rest = rest[i+3:]
	}
	i := strings.Index(rest, "/")
	if i == -1 {
		return defaultMongoDatabase
	}
	name := strings.Split(rest[i+1:], "?")[0]
	if name == "" {
		return defaultMongoDatabase
	}
	return name
}

func Disconnect() error {
	if Client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return Client.Disconnect(ctx)
}
