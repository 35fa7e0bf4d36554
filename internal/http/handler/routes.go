package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"crmapi/internal/auth"
	"crmapi/internal/http/middleware"
	"crmapi/internal/service"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	DB        Pinger
	Customers service.CustomerService
	Documents service.DocumentService
	Auth      service.AuthService
	Users     service.UserService
	Tokens    middleware.TokenParser
	Upload    UploadPolicy
	Cookie    CookieConfig
	// DocumentLinkTTL is the lifetime of presigned document links.
	DocumentLinkTTL time.Duration
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app. Everything lives under /api.
func RegisterRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", Liveness())

	api := app.Group("/api")
	api.Get("/health", HealthCheck(d.DB))

	authn := middleware.Authenticate(d.Tokens)

	a := api.Group("/auth")
	a.Post("/register", Register(d.Auth))
	a.Post("/login", Login(d.Auth, d.Cookie))
	a.Post("/logout", Logout(d.Cookie))
	a.Get("/profile", authn, Profile(d.Auth))
	a.Put("/profile", authn, UpdateProfile(d.Auth))
	a.Post("/change-password", authn, ChangePassword(d.Auth))

	read := middleware.RequirePermission(auth.PermCustomersRead)
	write := middleware.RequirePermission(auth.PermCustomersWrite)

	cust := api.Group("/customers", authn)
	cust.Get("/", read, ListCustomers(d.Customers))
	cust.Get("/stats", read, CustomerStats(d.Customers))
	cust.Post("/", write, CreateCustomer(d.Customers, d.Upload))
	cust.Get("/:id", read, GetCustomer(d.Customers))
	cust.Get("/:id/document", read, CustomerDocument(d.Customers, d.DocumentLinkTTL))
	cust.Put("/:id", write, UpdateCustomer(d.Customers, d.Upload))
	cust.Delete("/:id", write, DeleteCustomer(d.Customers))

	admin := api.Group("/admin", authn)
	users := admin.Group("/users", middleware.RequirePermission(auth.PermUsersManage))
	users.Get("/", ListUsers(d.Users))
	users.Post("/", CreateUser(d.Users))
	users.Get("/:id", GetUser(d.Users))
	users.Put("/:id", UpdateUser(d.Users))
	users.Delete("/:id", DeleteUser(d.Users))

	docs := admin.Group("/documents", middleware.RequirePermission(auth.PermDocumentsManage))
	docs.Get("/", ListDocuments(d.Documents))
	docs.Post("/reconcile", ReconcileDocuments(d.Documents))
}
