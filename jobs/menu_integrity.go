package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/aqarfund/aqar/internal/jobs"
	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/shared"
	"github.com/aqarfund/aqar/internal/visibility"
)

// Integrity issue kinds.
const (
	IssueOrphan            = "orphan"
	IssueCycle             = "cycle"
	IssueUnknownPermission = "unknown_permission"
	IssueInactiveParent    = "inactive_parent"
	IssueStaleRule         = "stale_rule"
)

var issueKinds = []string{IssueOrphan, IssueCycle, IssueUnknownPermission, IssueInactiveParent, IssueStaleRule}

// ErrIntegrityIssues is returned by the scan task when FailOnIssues is set.
var ErrIntegrityIssues = errors.New("menu integrity: issues found")

// IntegrityIssue describes one problem found by the scan.
type IntegrityIssue struct {
	Kind       string
	MenuItemID int64
	RoleID     int64
	Detail     string
}

// IntegritySnapshot is the state a scan runs against.
type IntegritySnapshot struct {
	Items       []menu.Item
	Permissions map[string]bool
	Rules       visibility.Rules
}

// IntegrityStore loads a snapshot.
type IntegrityStore interface {
	Snapshot(ctx context.Context) (IntegritySnapshot, error)
}

// ScanMenuIntegrity reports dangling parents, parent cycles, required
// permissions with no active permission row, active children of inactive
// parents and visibility rows pointing at inactive items. Issues are sorted
// by kind then item id.
func ScanMenuIntegrity(snap IntegritySnapshot) []IntegrityIssue {
	byID := make(map[int64]menu.Item, len(snap.Items))
	for _, item := range snap.Items {
		byID[item.ID] = item
	}

	var issues []IntegrityIssue
	for _, item := range snap.Items {
		if item.ParentID != nil {
			parent, ok := byID[*item.ParentID]
			switch {
			case !ok:
				issues = append(issues, IntegrityIssue{Kind: IssueOrphan, MenuItemID: item.ID, Detail: fmt.Sprintf("parent %d does not exist", *item.ParentID)})
			case item.IsActive && !parent.IsActive:
				issues = append(issues, IntegrityIssue{Kind: IssueInactiveParent, MenuItemID: item.ID, Detail: fmt.Sprintf("parent %d is inactive", parent.ID)})
			}
		}
		if inCycle(item, byID) {
			issues = append(issues, IntegrityIssue{Kind: IssueCycle, MenuItemID: item.ID, Detail: "parent chain loops"})
		}
		if item.RequiredPermission != "" && !snap.Permissions[item.RequiredPermission] {
			issues = append(issues, IntegrityIssue{Kind: IssueUnknownPermission, MenuItemID: item.ID, Detail: item.RequiredPermission})
		}
	}
	for key := range snap.Rules {
		item, ok := byID[key.MenuItemID]
		if !ok || !item.IsActive {
			issues = append(issues, IntegrityIssue{Kind: IssueStaleRule, MenuItemID: key.MenuItemID, RoleID: key.RoleID, Detail: "visibility row for inactive item"})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Kind != issues[j].Kind {
			return issues[i].Kind < issues[j].Kind
		}
		if issues[i].MenuItemID != issues[j].MenuItemID {
			return issues[i].MenuItemID < issues[j].MenuItemID
		}
		return issues[i].RoleID < issues[j].RoleID
	})
	return issues
}

func inCycle(item menu.Item, byID map[int64]menu.Item) bool {
	seen := map[int64]bool{item.ID: true}
	current := item
	for current.ParentID != nil {
		parent, ok := byID[*current.ParentID]
		if !ok {
			return false
		}
		if parent.ID == item.ID {
			return true
		}
		if seen[parent.ID] {
			// loop above this item; reported for the items on it
			return false
		}
		seen[parent.ID] = true
		current = parent
	}
	return false
}

// MenuIntegrityJob runs ScanMenuIntegrity on a schedule.
type MenuIntegrityJob struct {
	Store   IntegrityStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewMenuIntegrityJob wires dependencies for the scan handler.
func NewMenuIntegrityJob(store IntegrityStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *MenuIntegrityJob {
	return &MenuIntegrityJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle processes TaskMenuIntegrityScan tasks.
func (j *MenuIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("menu integrity: handler not configured")
	}
	var payload MenuIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("menu integrity: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskMenuIntegrityScan)
	defer func() { resultErr = tracker.End(resultErr) }()

	logger := j.logger()
	snap, err := j.Store.Snapshot(ctx)
	if err != nil {
		logger.Error("load integrity snapshot", slog.Any("error", err))
		return err
	}
	issues := ScanMenuIntegrity(snap)

	counts := make(map[string]int, len(issueKinds))
	for _, issue := range issues {
		counts[issue.Kind]++
		logger.Warn("menu integrity issue",
			slog.String("kind", issue.Kind),
			slog.Int64("menu_item_id", issue.MenuItemID),
			slog.Int64("role_id", issue.RoleID),
			slog.String("detail", issue.Detail),
		)
	}
	for _, kind := range issueKinds {
		j.Metrics.SetIntegrityIssues(kind, counts[kind])
	}
	logger.Info("menu integrity scan finished", slog.Int("items", len(snap.Items)), slog.Int("issues", len(issues)))

	if payload.FailOnIssues && len(issues) > 0 {
		return fmt.Errorf("%w: %d", ErrIntegrityIssues, len(issues))
	}
	return nil
}

func (j *MenuIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskMenuIntegrityScan))
	}
	return slog.Default()
}

// PGIntegrityStore reads the snapshot from PostgreSQL.
type PGIntegrityStore struct {
	pool  *pgxpool.Pool
	rules *visibility.PGRuleStore
}

// NewIntegrityStore constructs a PGIntegrityStore.
func NewIntegrityStore(pool *pgxpool.Pool) *PGIntegrityStore {
	return &PGIntegrityStore{pool: pool, rules: visibility.NewRuleStore(pool)}
}

// Snapshot implements IntegrityStore.
func (s *PGIntegrityStore) Snapshot(ctx context.Context) (IntegritySnapshot, error) {
	items, err := menu.ListItems(ctx, s.pool)
	if err != nil {
		return IntegritySnapshot{}, err
	}
	rows, err := s.pool.Query(ctx, `SELECT name FROM permissions WHERE is_active`)
	if err != nil {
		return IntegritySnapshot{}, shared.Infra("jobs: load permissions", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return IntegritySnapshot{}, shared.Infra("jobs: load permissions", err)
	}
	perms := make(map[string]bool, len(names))
	for _, name := range names {
		perms[name] = true
	}
	rules, err := s.rules.AllRules(ctx)
	if err != nil {
		return IntegritySnapshot{}, err
	}
	return IntegritySnapshot{Items: items, Permissions: perms, Rules: rules}, nil
}
