package rpcapi

import (
	"context"
	"strings"
	"time"

	"github.com/aqarfund/aqar/internal/audit"
	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/menuadmin"
	"github.com/aqarfund/aqar/internal/shared"
)

func (g *Gateway) menuAccessible(ctx context.Context, c call) (any, error) {
	var p struct {
		Language string `json:"language"`
	}
	if err := decodeParams(c.params, &p); err != nil {
		return nil, err
	}
	tree, err := g.resolver.AccessibleMenuTree(ctx, c.identity.UserID)
	if err != nil {
		return nil, err
	}
	lang := p.Language
	if lang == "" {
		lang = c.language
	}
	return map[string]any{"items": menu.Localize(tree, menu.PreferredLanguage(lang))}, nil
}

func (g *Gateway) permissionCheck(ctx context.Context, c call) (any, error) {
	var p struct {
		Permission string `json:"permission"`
	}
	if err := decodeParams(c.params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Permission) == "" {
		return nil, shared.NewValidationError("permission", "is required")
	}
	granted, err := g.resolver.HasPermission(ctx, c.identity.UserID, p.Permission)
	if err != nil {
		return nil, err
	}
	return map[string]any{"permission": p.Permission, "granted": granted}, nil
}

func (g *Gateway) menuMatrix(ctx context.Context, c call) (any, error) {
	if err := decodeParams(c.params, &struct{}{}); err != nil {
		return nil, err
	}
	return g.admin.VisibilityMatrix(ctx, c.actor)
}

func (g *Gateway) visibilitySet(ctx context.Context, c call) (any, error) {
	var p menuadmin.VisibilityChange
	if err := decodeParams(c.params, &p); err != nil {
		return nil, err
	}
	return g.admin.SetMenuVisibility(ctx, c.actor, p)
}

func (g *Gateway) visibilityBulkSet(ctx context.Context, c call) (any, error) {
	var p struct {
		Changes []menuadmin.VisibilityChange `json:"changes"`
	}
	if err := decodeParams(c.params, &p); err != nil {
		return nil, err
	}
	return g.admin.BulkSetMenuVisibility(ctx, c.actor, p.Changes)
}

func (g *Gateway) auditList(ctx context.Context, c call) (any, error) {
	var p struct {
		RoleID     *int64    `json:"role_id"`
		MenuItemID *int64    `json:"menu_item_id"`
		Kind       string    `json:"kind"`
		From       time.Time `json:"from"`
		To         time.Time `json:"to"`
		Page       int       `json:"page"`
		PageSize   int       `json:"page_size"`
	}
	if err := decodeParams(c.params, &p); err != nil {
		return nil, err
	}
	return g.admin.GetAuditLog(ctx, c.actor, audit.Filters{
		RoleID:     p.RoleID,
		MenuItemID: p.MenuItemID,
		Kind:       p.Kind,
		From:       p.From,
		To:         p.To,
		Page:       p.Page,
		PageSize:   p.PageSize,
	})
}
