package main

import (
	"bytes"
	"context"
	"testing"

	apperrors "github.com/bronsonhill/prompting-task-ISLM10002/internal/errors"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/metrics"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository/memory"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdmins() *services.AdminService {
	store := memory.New()
	return services.NewAdminService(store.AdminCodes(), services.NewCodeGenerator(5), nil)
}

func TestAddListRemove(t *testing.T) {
	ctx := context.Background()
	admins := newAdmins()
	var out, errOut bytes.Buffer

	require.NoError(t, execute(ctx, admins, options{add: "abc12", level: "admin"}, &out, &errOut))
	assert.Contains(t, out.String(), "Added admin code 'ABC12' with level 'admin'")

	out.Reset()
	require.NoError(t, execute(ctx, admins, options{list: true}, &out, &errOut))
	assert.Contains(t, out.String(), "ABC12")
	assert.Contains(t, out.String(), "Total admin codes: 1")
	assert.Contains(t, out.String(), "Regular admins: 1")

	out.Reset()
	require.NoError(t, execute(ctx, admins, options{remove: "ABC12"}, &out, &errOut))
	assert.Contains(t, out.String(), "Removed admin code 'ABC12'")
}

func TestAddRejectsInvalidCode(t *testing.T) {
	var out, errOut bytes.Buffer
	err := execute(context.Background(), newAdmins(), options{add: "ab1", level: "admin"}, &out, &errOut)
	assert.True(t, apperrors.IsValidation(err))
	assert.Empty(t, out.String())
}

func TestInitSecurePrintsCodeOnce(t *testing.T) {
	ctx := context.Background()
	admins := newAdmins()
	var out, errOut bytes.Buffer

	require.NoError(t, execute(ctx, admins, options{initSecure: true}, &out, &errOut))
	assert.Contains(t, out.String(), "ADMIN CODE: ")

	out.Reset()
	require.NoError(t, execute(ctx, admins, options{init: true}, &out, &errOut))
	assert.Contains(t, out.String(), "Admin codes already exist")
	assert.Contains(t, errOut.String(), "deprecated")
}

func TestRemoveSuperAdminRefused(t *testing.T) {
	ctx := context.Background()
	admins := newAdmins()
	var out, errOut bytes.Buffer
	require.NoError(t, execute(ctx, admins, options{add: "ROOT1", level: "super_admin"}, &out, &errOut))

	err := execute(ctx, admins, options{remove: "ROOT1"}, &out, &errOut)
	assert.True(t, apperrors.IsPolicyViolation(err))
}

func TestNoFlagsPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run(nil, &out, &errOut))
	assert.Contains(t, errOut.String(), "--init-secure")
}

func TestStatsReportsUsage(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := metrics.NewCollector("test")
	tokens := services.NewTokenCounterWithEncoder(services.HeuristicEncoder{})
	ids := services.NewIDAllocator(store.Counters(), services.DefaultPadWidth, m, nil)
	audit := services.NewAuditLogger(store.Logs(), nil, m, nil)
	users := services.NewUserService(store.Users(), nil, audit, nil, nil)
	prompts := services.NewPromptService(store.Prompts(), ids, tokens, nil, audit, nil)
	conversations := services.NewConversationService(store.Conversations(), store.Prompts(), ids, tokens, audit, m, nil)

	_, err := users.CreateUser(ctx, "AB12C", models.ConsentGiven)
	require.NoError(t, err)
	_, err = users.CreateUser(ctx, "ZZ99Z", models.ConsentDeclined)
	require.NoError(t, err)
	promptID, err := prompts.CreatePrompt(ctx, "AB12C", "Explain photosynthesis", nil)
	require.NoError(t, err)
	_, err = conversations.StartConversation(ctx, "AB12C", promptID)
	require.NoError(t, err)

	stats := services.NewStatsService(store, nil)
	var out bytes.Buffer
	require.NoError(t, showStats(ctx, stats, "", &out))
	assert.Contains(t, out.String(), "Total users: 2")
	assert.Contains(t, out.String(), "Total prompts: 1")
	assert.Contains(t, out.String(), "Total conversations: 1")
	assert.Contains(t, out.String(), "Total messages: 1")
	assert.Contains(t, out.String(), "Given: 1")
	assert.Contains(t, out.String(), "Declined: 1")

	out.Reset()
	require.NoError(t, showStats(ctx, stats, "ab12c", &out))
	assert.Contains(t, out.String(), "User AB12C")
	assert.Contains(t, out.String(), "Prompts: 1")
	assert.Contains(t, out.String(), "Conversations: 1")
	assert.Contains(t, out.String(), models.ActionConversationStart)

	err = showStats(ctx, stats, "bad", &out)
	assert.True(t, apperrors.IsValidation(err))
}

func TestUserFlagRequiresStats(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run([]string{"--user", "AB12C"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "--user requires --stats")
}
