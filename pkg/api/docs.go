// Package api provides the read-only operations API of the payment reconciler
// @title Payment Reconciler API
// @version 1.0
// @description Read-only view of reconciliation progress, order payment state and the unmatched payment ledger
// @contact.name API Support
// @contact.url https://github.com/wjz5788/leverageguard-attestor-sub002
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
package api
