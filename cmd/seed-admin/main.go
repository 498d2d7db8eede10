// seed-admin creates or updates the admin console user (username: membersAdmin).
// Admin users have role = 'A'; the backend returns role "Admin" for login.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
//
// The password can be overridden with SEED_ADMIN_PASSWORD.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mmdatafocus/members_backend/config"
	"github.com/mmdatafocus/members_backend/models"
	"github.com/mmdatafocus/members_backend/utils"
	"gorm.io/gorm"
)

const (
	adminUsername = "membersAdmin"
	adminName     = "Members Admin"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	adminPassword := os.Getenv("SEED_ADMIN_PASSWORD")
	if adminPassword == "" {
		fmt.Fprintln(os.Stderr, "SEED_ADMIN_PASSWORD is required")
		os.Exit(1)
	}

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Seed")
	ctx = utils.SetUsernameInContext(ctx, adminUsername)
	ctx = utils.SetIsAdminInContext(ctx, true)

	hashed, err := utils.HashPassword(adminPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		// Create new admin user
		u := models.User{
			Username: adminUsername,
			Name:     adminName,
			Password: hashedStr,
			IsActive: utils.NewTrue(),
			Role:     models.UserRoleAdmin,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q (role=Admin)\n", adminUsername)
		printServiceToken(u.ID, adminUsername)
		return
	}

	// Update existing user: ensure password and admin role
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Updates(map[string]any{
		"password":  hashedStr,
		"name":      adminName,
		"is_active": utils.NewTrue(),
		"role":      models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	_ = existing.RemoveInstanceRedis()
	fmt.Printf("Updated admin user: username=%q (role=Admin)\n", adminUsername)
	printServiceToken(existing.ID, adminUsername)
}

// printServiceToken emits a bearer token for scheduler / service callers.
func printServiceToken(userId int, username string) {
	token, err := utils.JwtGenerate(userId, username, "Admin")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate service token: %v\n", err)
		return
	}
	fmt.Printf("Service bearer token (TOKEN_HOUR_LIFESPAN bound): %s\n", token)
}
