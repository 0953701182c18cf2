// Package ctx carries the process-wide handles every layer needs. Passing
// one *Context keeps model functions callable from services, cron jobs and
// tests without package-level globals.
package ctx

import (
	"context"

	"gorm.io/gorm"
)

type Context struct {
	DB  *gorm.DB
	Ctx context.Context
}

func NewContext(ctx context.Context, db *gorm.DB) *Context {
	return &Context{Ctx: ctx, DB: db}
}
