package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"hubbridge/internal/config"
	"hubbridge/internal/storage/file"
	"hubbridge/internal/storage/mongodb"
	"hubbridge/internal/storage/sqlite"
)

func main() {
	var driver, path, mongoURI, mongoDB string
	flag.StringVar(&driver, "driver", envOr("STORAGE_DRIVER", config.StorageFile), "storage driver: file, sqlite or mongo")
	flag.StringVar(&path, "path", envOr("STORAGE_PATH", config.DefaultStoragePath), "path to the token file or sqlite database")
	flag.StringVar(&mongoURI, "mongo-uri", os.Getenv("MONGO_URI"), "mongodb connection uri")
	flag.StringVar(&mongoDB, "mongo-db", envOr("MONGO_DATABASE", "hubbridge"), "mongodb database name")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch driver {
	case config.StorageFile:
		storage, err := file.New(path)
		if err != nil {
			log.Fatalf("failed to open token file: %v", err)
		}
		defer storage.Close()

		log.Printf("Token file ready at %s", path)

	case config.StorageSQLite:
		storage, err := sqlite.New(path)
		if err != nil {
			log.Fatalf("failed to open sqlite database: %v", err)
		}
		defer storage.Close()

		if err := storage.Migrate(); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}

		log.Printf("Migrations applied to %s", path)

	case config.StorageMongo:
		if mongoURI == "" {
			log.Fatal(config.ErrMongoURIRequired)
		}

		log.Println("Connecting to MongoDB...")

		storage, err := mongodb.New(ctx, mongoURI, mongoDB)
		if err != nil {
			log.Fatalf("failed to connect to mongodb: %v", err)
		}
		defer storage.Close(ctx)

		log.Println("MongoDB connected, indexes created successfully")

	default:
		log.Fatalf("%v: %q", config.ErrUnknownStorageDriver, driver)
	}

	fmt.Println("Storage initialization completed successfully")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
