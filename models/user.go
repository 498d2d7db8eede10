package models

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/members_backend/config"
	"github.com/mmdatafocus/members_backend/utils"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email     *string   `gorm:"size:100;unique" json:"email"`
	Password  string    `gorm:"size:255;not null" json:"password"`
	IsActive  *bool     `gorm:"not null" json:"is_active"`
	Role      UserRole  `gorm:"type:enum('A', 'S');default:S" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string   `json:"username" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Email    string   `json:"email"`
	Password string   `json:"password" binding:"required"`
	IsActive *bool    `json:"is_active" binding:"required"`
	Role     UserRole `json:"role" binding:"required"`
}

/*
caches:
	User:$username
	Token:$token
	Tokens:$username
*/

func (user User) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("User:" + user.Username)
}

type LoginInfo struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (result *User) PrepareGive() {
	result.Password = ""
}

// destroy current session
func Logout(ctx context.Context) (bool, error) {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return false, errors.New("token is required")
	}
	err := config.RemoveRedisKey("Token:" + fmt.Sprint(token))
	if err != nil {
		return false, nil
	}
	// remove current token from tokens list
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return false, errors.New("user not found")
	}
	if err := config.RemoveRedisSetMember("Tokens:"+username, token); err != nil {
		return false, err
	}
	return true, nil
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {

	db := config.GetDB()
	var err error
	var result LoginInfo

	user := User{}

	// get User info
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return &result, err
	}
	if !exists {
		err = db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Take(&user).Error

		if err != nil {
			return &result, errors.New("invalid username or password")
		}
	}

	// check login credentials
	err = utils.ComparePassword(user.Password, password)

	if err != nil && err == bcrypt.ErrMismatchedHashAndPassword {
		return &result, errors.New("invalid username or password")
	}

	isActive := *user.IsActive
	if !isActive {
		return &result, errors.New("user is disabled")
	}

	// generate token & response
	token := uuid.New()
	result.Token = token.String()
	result.Name = user.Username
	if user.Role == UserRoleAdmin {
		result.Role = "Admin"
	} else {
		result.Role = "Staff"
	}

	// store token in redis
	tokenLifespan, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil {
		tokenLifespan = 24
	}

	// add new token to the user's tokens set
	if err := config.AddRedisSet("Tokens:"+user.Username, token.String()); err != nil {
		return nil, err
	}
	if err := config.SetRedisValue("Token:"+token.String(), user.Username, time.Duration(tokenLifespan)*time.Hour); err != nil {
		return &result, err
	}

	return &result, nil
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {

	db := config.GetDB()
	var count int64

	err := db.WithContext(ctx).Model(&User{}).Where("username = ?", input.Username).Or("email = ?", input.Email).Count(&count).Error
	if err != nil {
		return &User{}, err
	}
	if count > 0 {
		return &User{}, errors.New("duplicate username or email")
	}

	hashedPassword, err := utils.HashPassword(input.Password)
	if err != nil {
		return &User{}, err
	}
	input.Email = strings.ToLower(input.Email)

	user := User{
		Username: html.EscapeString(strings.TrimSpace(input.Username)),
		Name:     input.Name,
		Email:    utils.NilIfEmpty(input.Email),
		Password: string(hashedPassword),
		IsActive: input.IsActive,
		Role:     input.Role,
	}

	err = db.WithContext(ctx).Create(&user).Error
	if err != nil {
		return &User{}, err
	}
	user.Password = ""
	return &user, nil
}

func GetUserByUsername(ctx context.Context, username string) (*User, error) {

	db := config.GetDB()
	var result User

	err := db.WithContext(ctx).Where("username = ?", username).Take(&result).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	result.PrepareGive()

	return &result, nil
}

func (user *User) DestroyAllSessions(ctx context.Context) error {
	allTokens, err := config.GetRedisSetMembers("Tokens:" + user.Username)
	if err != nil {
		return err
	}
	for _, token := range allTokens {
		if err := config.RemoveRedisKey("Token:" + token); err != nil {
			return err
		}
	}
	if err := config.RemoveRedisKey("Tokens:" + user.Username); err != nil {
		return err
	}

	return nil
}

func ChangePassword(ctx context.Context, oldPassword string, newPassword string) (*User, error) {
	db := config.GetDB()
	var user User

	// JWT callers carry the user id; session callers only carry the username.
	if userId, ok := utils.GetUserIdFromContext(ctx); ok && userId != 0 {
		if err := db.WithContext(ctx).First(&user, userId).Error; err != nil {
			return nil, err
		}
	} else if username, ok := utils.GetUsernameFromContext(ctx); ok && username != "" {
		if err := db.WithContext(ctx).Where("username = ?", username).Take(&user).Error; err != nil {
			return nil, err
		}
	} else {
		return nil, errors.New("user is required")
	}

	// check oldPassword
	if err := utils.ComparePassword(user.Password, oldPassword); err != nil {
		return nil, errors.New("old password is wrong")
	}

	hashedPassword, err := utils.HashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	if err := db.WithContext(ctx).Model(&user).UpdateColumn("password", string(hashedPassword)).Error; err != nil {
		return nil, err
	}

	// Cache and session invalidation only after the new password is stored;
	// a Redis failure must not roll the password change back.
	if err := user.RemoveInstanceRedis(); err != nil {
		return nil, err
	}
	if err := user.DestroyAllSessions(ctx); err != nil {
		return nil, err
	}

	user.Password = ""
	return &user, nil
}
