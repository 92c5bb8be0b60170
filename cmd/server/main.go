package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spenicle/backend/internal/database"
	mW "github.com/spenicle/backend/internal/middleware"
	"github.com/spenicle/backend/internal/services"
	"github.com/spf13/viper"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("limits.account_name_max", "LIMIT_ACCOUNT_NAME_MAX")
	viper.BindEnv("limits.category_name_max", "LIMIT_CATEGORY_NAME_MAX")
	viper.BindEnv("limits.tag_name_max", "LIMIT_TAG_NAME_MAX")
	viper.BindEnv("pagination.max_page_size", "PAGINATION_MAX_PAGE_SIZE")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize storage
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	accountService := services.NewAccountService(db)
	categoryService := services.NewCategoryService(db)
	transactionService := services.NewTransactionService(db)
	budgetService := services.NewBudgetService(db)
	templateService := services.NewTemplateService(db)
	tagService := services.NewTagService(db)
	summaryService := services.NewSummaryService(db)
	preferencesService := services.NewPreferencesService(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/accounts", accountService.CreateAccount)
		r.Get("/accounts", accountService.ListAccounts)
		r.Post("/accounts/reorder", accountService.ReorderAccounts)
		r.Get("/accounts/{id}", accountService.GetAccount)
		r.Patch("/accounts/{id}", accountService.UpdateAccount)
		r.Delete("/accounts/{id}", accountService.DeleteAccount)

		r.Post("/categories", categoryService.CreateCategory)
		r.Get("/categories", categoryService.ListCategories)
		r.Post("/categories/reorder", categoryService.ReorderCategories)
		r.Get("/categories/{id}", categoryService.GetCategory)
		r.Patch("/categories/{id}", categoryService.UpdateCategory)
		r.Delete("/categories/{id}", categoryService.DeleteCategory)

		r.Post("/transactions", transactionService.CreateTransaction)
		r.Get("/transactions", transactionService.ListTransactions)
		r.Get("/transactions/{id}", transactionService.GetTransaction)
		r.Patch("/transactions/{id}", transactionService.UpdateTransaction)
		r.Delete("/transactions/{id}", transactionService.DeleteTransaction)

		r.Post("/budgets", budgetService.CreateBudget)
		r.Get("/budgets", budgetService.ListBudgets)
		r.Get("/budgets/{id}", budgetService.GetBudget)
		r.Patch("/budgets/{id}", budgetService.UpdateBudget)
		r.Delete("/budgets/{id}", budgetService.DeleteBudget)

		r.Post("/transaction-templates", templateService.CreateTransactionTemplate)
		r.Get("/transaction-templates", templateService.ListTransactionTemplates)
		r.Get("/transaction-templates/{id}", templateService.GetTransactionTemplate)
		r.Patch("/transaction-templates/{id}", templateService.UpdateTransactionTemplate)
		r.Delete("/transaction-templates/{id}", templateService.DeleteTransactionTemplate)

		r.Post("/budget-templates", templateService.CreateBudgetTemplate)
		r.Get("/budget-templates", templateService.ListBudgetTemplates)
		r.Get("/budget-templates/{id}", templateService.GetBudgetTemplate)
		r.Patch("/budget-templates/{id}", templateService.UpdateBudgetTemplate)
		r.Delete("/budget-templates/{id}", templateService.DeleteBudgetTemplate)

		r.Post("/tags", tagService.CreateTag)
		r.Get("/tags", tagService.ListTags)
		r.Patch("/tags/{id}", tagService.UpdateTag)
		r.Delete("/tags/{id}", tagService.DeleteTag)

		r.Get("/summary/accounts", summaryService.AccountSummaries)
		r.Get("/summary/categories", summaryService.CategorySummaries)
		r.Get("/summary/categories/{id}/statistics", summaryService.CategoryStatisticsHandler)
		r.Get("/summary/transactions", summaryService.TransactionSummaries)

		r.Post("/preferences/refresh-geo-cache", preferencesService.RefreshGeoCache)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
