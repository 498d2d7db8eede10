package models_test

import (
	"testing"

	"github.com/mmdatafocus/members_backend/config"
	"github.com/mmdatafocus/members_backend/models"
	"github.com/mmdatafocus/members_backend/utils"
)

func TestUserLifecycleAndPasswordChange(t *testing.T) {
	ctx := setupIntegration(t)

	staff := models.NewUser{
		Username: "frontdesk",
		Name:     "Front Desk",
		Email:    "Desk@Example.org",
		Password: "initial-pass",
		IsActive: utils.NewTrue(),
		Role:     models.UserRoleStaff,
	}
	created, err := models.CreateUser(ctx, &staff)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if created.Password != "" {
		t.Fatal("password must not be returned")
	}
	if created.Email == nil || *created.Email != "desk@example.org" {
		t.Fatalf("email = %v", created.Email)
	}

	dup := staff
	if _, err := models.CreateUser(ctx, &dup); err == nil {
		t.Fatal("expected duplicate user error")
	}

	// Disabled users cannot log in.
	disabled := models.NewUser{
		Username: "parked",
		Name:     "Parked",
		Password: "parked-pass",
		IsActive: utils.NewFalse(),
		Role:     models.UserRoleStaff,
	}
	if _, err := models.CreateUser(ctx, &disabled); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := models.Login(ctx, "parked", "parked-pass"); err == nil {
		t.Fatal("expected disabled user login to fail")
	}

	info, err := models.Login(ctx, "frontdesk", "initial-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if info.Role != "Staff" || info.Token == "" {
		t.Fatalf("login info = %+v", info)
	}

	fetched, err := models.GetUserByUsername(ctx, "frontdesk")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if fetched.Password != "" {
		t.Fatal("password must be stripped")
	}
	if _, err := models.GetUserByUsername(ctx, "nobody"); err == nil {
		t.Fatal("expected missing user error")
	}

	// Changing the password invalidates the old one and every session.
	userCtx := utils.SetUsernameInContext(ctx, "frontdesk")
	if _, err := models.ChangePassword(userCtx, "wrong-pass", "next-pass"); err == nil {
		t.Fatal("expected old password check to fail")
	}
	if _, err := models.ChangePassword(userCtx, "initial-pass", "next-pass"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := models.Login(ctx, "frontdesk", "initial-pass"); err == nil {
		t.Fatal("expected old password to stop working")
	}
	if _, err := models.Login(ctx, "frontdesk", "next-pass"); err != nil {
		t.Fatalf("login after password change: %v", err)
	}

	// The pre-change session token is gone from Redis.
	_, exists, err := config.GetRedisValue("Token:" + info.Token)
	if err != nil {
		t.Fatalf("GetRedisValue: %v", err)
	}
	if exists {
		t.Fatal("expected old session token to be destroyed")
	}
}
