package models

import (
	"log"

	"bitbucket.org/mmdatafocus/operations_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&PurchaseOrder{}, &PurchaseOrderDetail{},
		&GoodsReceivedNote{}, &GoodsReceivedNoteDetail{},
		&DocumentEventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
