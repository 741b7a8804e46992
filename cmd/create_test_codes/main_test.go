package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/metrics"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository/memory"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newUsers(t *testing.T) *services.UserService {
	store := memory.New()
	log := zaptest.NewLogger(t)
	generator := services.NewCodeGenerator(5)
	audit := services.NewAuditLogger(store.Logs(), nil, metrics.NewCollector("test"), log)
	admins := services.NewAdminService(store.AdminCodes(), generator, log)
	return services.NewUserService(store.Users(), admins, audit, generator, log)
}

func TestCreateTestCodesAreConsented(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	var out bytes.Buffer

	codes, err := createTestCodes(ctx, users, 3, &out)
	require.NoError(t, err)
	require.Len(t, codes, 3)
	assert.Contains(t, out.String(), "Successfully created: 3 codes")

	for _, code := range codes {
		u, err := users.GetUserData(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, models.ConsentGiven, u.DataUseConsent)
	}

	out.Reset()
	require.NoError(t, listUsers(ctx, users, &out))
	assert.Contains(t, out.String(), "Total users in store: 3")
	assert.Equal(t, 3, strings.Count(out.String(), "Consent: yes"))
}

func TestSaveCodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.txt")
	require.NoError(t, saveCodes(path, []string{"AB12C", "ZZ99Z"}, time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Total Created: 2")
	assert.True(t, strings.HasSuffix(string(data), "CODES:\nAB12C\nZZ99Z\n"))
}

func TestRunRejectsNonPositiveCount(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run([]string{"--count", "0"}, &out, &errOut))
}
