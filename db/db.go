package db

import (
	"fmt"

	"github.com/techagentng/clarkmarket/config"
	"github.com/techagentng/clarkmarket/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GormDB struct {
	DB *gorm.DB
}

func GetDB(c *config.Config) (*GormDB, error) {
	gormDB := &GormDB{}
	if err := gormDB.Init(c); err != nil {
		return nil, err
	}
	return gormDB, nil
}

func (g *GormDB) Init(c *config.Config) error {
	db, err := getPostgresDB(c)
	if err != nil {
		return err
	}
	g.DB = db

	if err := migrate(g.DB); err != nil {
		return fmt.Errorf("unable to run migrations: %v", err)
	}
	return nil
}

func getPostgresDB(c *config.Config) (*gorm.DB, error) {
	postgresDSN := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d TimeZone=UTC",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort)

	gormConfig := &gorm.Config{}
	if c.Env != "prod" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}
	return gorm.Open(postgres.New(postgres.Config{
		DSN: postgresDSN,
	}), gormConfig)
}

func migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Conversation{},
		&models.Message{},
	)
	if err != nil {
		return fmt.Errorf("migrations error: %v", err)
	}
	return nil
}
