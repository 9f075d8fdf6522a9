package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"freight-chat/config"
	"freight-chat/internal/model"
	"freight-chat/pkg/db"
	"freight-chat/pkg/password"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	configPath string
	assumeYes  bool
	seed       bool
	seedPass   string
)

// demoUsers 演示账号，一个货主一个司机
var demoUsers = []model.User{
	{ID: "shipper-demo", FirstName: "Sam", LastName: "Shipper", Email: "shipper@example.com", Role: "shipper"},
	{ID: "driver-demo", FirstName: "Dee", LastName: "Driver", Email: "driver@example.com", Role: "driver"},
}

func main() {
	cmd := &cobra.Command{
		Use:          "reset_db",
		Short:        "Clear all chat tables, optionally seeding demo accounts",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			return reset()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "config file path")
	cmd.Flags().BoolVar(&assumeYes, "yes", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&seed, "seed", false, "create demo shipper and driver accounts after clearing")
	cmd.Flags().StringVar(&seedPass, "seed-password", "demo1234", "password for the demo accounts")

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func reset() error {
	cfg := config.LoadConfigFile(configPath)
	cfg.Database.LogLevel = "silent"

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if sqlDB, err := conn.DB(); err == nil {
		defer sqlDB.Close()
	}

	models := model.All()
	migrate := make([]interface{}, len(models))
	tables := make([]string, len(models))
	for i, m := range models {
		migrate[i] = m
		tables[i] = m.TableName()
	}
	if err := db.AutoMigrate(conn, migrate...); err != nil {
		return err
	}

	fmt.Println("Database connected successfully")
	fmt.Printf("Driver: %s  Database: %s\n", cfg.Database.Driver, cfg.Database.Database)

	if !assumeYes {
		fmt.Printf("\nWARNING: This operation will CLEAR ALL DATA in tables %v!\n", tables)
		fmt.Print("Type 'YES' to confirm: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(line) != "YES" {
			fmt.Println("Operation cancelled")
			return nil
		}
	}

	mysql := cfg.Database.Driver != "sqlite"
	if mysql {
		conn.Exec("SET FOREIGN_KEY_CHECKS=0")
		defer conn.Exec("SET FOREIGN_KEY_CHECKS=1")
	}

	// 子表在后，倒序清空
	for i := len(tables) - 1; i >= 0; i-- {
		table := tables[i]
		fmt.Printf("Clearing table %s... ", table)
		if err := conn.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error; err != nil {
			fmt.Printf("Failed: %v\n", err)
			continue
		}
		fmt.Println("Success")
	}

	fmt.Println("\nResetting auto-increment IDs...")
	if mysql {
		for _, table := range tables {
			if err := conn.Exec(fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT = 1", table)).Error; err != nil {
				fmt.Printf("Resetting %s failed: %v\n", table, err)
			}
		}
	} else if conn.Migrator().HasTable("sqlite_sequence") {
		conn.Exec("DELETE FROM sqlite_sequence")
	}

	if seed {
		if err := seedUsers(conn); err != nil {
			return err
		}
	}

	fmt.Println("\nDatabase reset completed!")
	return nil
}

func seedUsers(conn *gorm.DB) error {
	hash, err := password.Hash(seedPass)
	if err != nil {
		return err
	}
	for _, u := range demoUsers {
		u.PasswordHash = hash
		if err := conn.Create(&u).Error; err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		fmt.Printf("Seeded %s (%s)\n", u.Email, u.Role)
	}
	fmt.Printf("Demo password: %s\n", seedPass)
	return nil
}
