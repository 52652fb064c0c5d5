package main

//go:generate swag init -g cmd/syncd/main.go -o docs

// @title           dashsync API
// @version         0.1.0
// @description     Multi-tenant GHL and Teamleader sync: trigger passes, inspect cursors and runs, connect Teamleader.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description "Bearer <server.api_token>". Required on /api/* except the OAuth callback when a token is configured.
