package models

import (
	"log"

	"github.com/mmdatafocus/members_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&Payment{}, &GatewayTransaction{},
		&Donation{}, &EventOrder{},
		&ReconciliationRun{}, &ReconciliationItem{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
