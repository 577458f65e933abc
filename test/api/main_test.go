package api_test

import (
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

// The suite runs against a live server: API_URL names it and
// CLINIC_JWT_SECRET must match the server's signing secret. Without API_URL
// every test is skipped.
var (
	apiURL    = os.Getenv("API_URL")
	jwtSecret = os.Getenv("CLINIC_JWT_SECRET")
	jwtIssuer = envOr("CLINIC_JWT_ISSUER", "clinic-auth")
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func checkAPIServer() error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(apiURL + "/api/v1/health/ready")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("readiness returned %d", resp.StatusCode)
	}
	return nil
}

func TestMain(m *testing.M) {
	if apiURL == "" {
		fmt.Println("API_URL not set, skipping end-to-end suite")
		os.Exit(0)
	}
	if jwtSecret == "" {
		fmt.Println("CLINIC_JWT_SECRET must be set to mint test tokens")
		os.Exit(1)
	}

	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		err := checkAPIServer()
		if err == nil {
			break
		}
		if i == maxRetries-1 {
			fmt.Printf("Error: %v\nMake sure the API server is running at %s\n", err, apiURL)
			os.Exit(1)
		}
		fmt.Printf("Waiting for API server (attempt %d/%d)...\n", i+1, maxRetries)
		time.Sleep(2 * time.Second)
	}

	os.Exit(m.Run())
}
