package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"cos-backend/config"
	"cos-backend/crypto"
	"cos-backend/services"
	"cos-backend/utils"
)

func TestMain(m *testing.M) {
	utils.InitLogging()
	os.Exit(m.Run())
}

// =====================
// Mock Implementations
// =====================

// MockDB represents a mock database connection for unit tests
type MockDB struct {
	mock.Mock
}

func (m *MockDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	return mockArgs.Get(0).(pgx.Row)
}

func (m *MockDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	rowsAffected := mockArgs.Get(0).(int64)
	tag := pgconn.NewCommandTag("UPDATE " + fmt.Sprintf("%d", rowsAffected))
	return tag, mockArgs.Error(1)
}

func (m *MockDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	return mockArgs.Get(0).(pgx.Rows), mockArgs.Error(1)
}

func (m *MockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	mockArgs := m.Called(ctx)
	tx, _ := mockArgs.Get(0).(pgx.Tx)
	return tx, mockArgs.Error(1)
}

type MockRow struct {
	mock.Mock
}

func (m *MockRow) Scan(dest ...interface{}) error {
	mockArgs := m.Called(dest...)
	return mockArgs.Error(0)
}

type MockRows struct {
	mock.Mock
	closed bool
}

func (m *MockRows) Next() bool {
	mockArgs := m.Called()
	return mockArgs.Bool(0)
}

func (m *MockRows) Scan(dest ...interface{}) error {
	mockArgs := m.Called(dest...)
	return mockArgs.Error(0)
}

func (m *MockRows) Close() {
	m.closed = true
}

func (m *MockRows) Err() error {
	return nil
}

func (m *MockRows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag("")
}

func (m *MockRows) FieldDescriptions() []pgconn.FieldDescription {
	return nil
}

func (m *MockRows) Values() ([]interface{}, error) {
	return nil, nil
}

func (m *MockRows) RawValues() [][]byte {
	return nil
}

func (m *MockRows) Conn() *pgx.Conn {
	return nil
}

type MockTx struct {
	mock.Mock
}

func (m *MockTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	return mockArgs.Get(0).(pgx.Row)
}

func (m *MockTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	return mockArgs.Get(0).(pgx.Rows), mockArgs.Error(1)
}

func (m *MockTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	rowsAffected := mockArgs.Get(0).(int64)
	tag := pgconn.NewCommandTag("UPDATE " + fmt.Sprintf("%d", rowsAffected))
	return tag, mockArgs.Error(1)
}

func (m *MockTx) Rollback(ctx context.Context) error {
	mockArgs := m.Called(ctx)
	return mockArgs.Error(0)
}

func (m *MockTx) Commit(ctx context.Context) error {
	mockArgs := m.Called(ctx)
	return mockArgs.Error(0)
}

func (m *MockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	mockArgs := m.Called(ctx)
	tx, _ := mockArgs.Get(0).(pgx.Tx)
	return tx, mockArgs.Error(1)
}

func (m *MockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (m *MockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (m *MockTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (m *MockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (m *MockTx) Deallocate(ctx context.Context, name string) error {
	return nil
}

func (m *MockTx) Conn() *pgx.Conn {
	return nil
}

// Handlers hold a concrete *redis.Client, so tests point it at a closed local
// port. Throttle and cache paths treat connection errors as a miss, which is
// exactly the behavior these tests need.
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:       "127.0.0.1:1",
		MaxRetries: -1,
	})
}

// anyArgs builds n mock.Anything matchers for wide INSERT statements
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = mock.Anything
	}
	return args
}

// =====================
// AuthHandler Tests
// =====================

type AuthHandlerTestSuite struct {
	suite.Suite
	handler   *AuthHandler
	mockDB    *MockDB
	cryptoSvc *crypto.CryptoService
	cfg       *config.Config
	userID    uuid.UUID
}

func (suite *AuthHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		suite.T().Fatalf("Failed to generate random data: %v", err)
	}
	suite.cryptoSvc = crypto.NewCryptoService(key)

	jwtSecret := make([]byte, 64)
	if _, err := rand.Read(jwtSecret); err != nil {
		suite.T().Fatalf("Failed to generate random data: %v", err)
	}

	suite.cfg = &config.Config{
		JWTSecret:          jwtSecret,
		EncryptionKey:      key,
		MaxLoginAttempts:   5,
		MaxIPLoginAttempts: 15,
		LockoutDuration:    15 * time.Minute,
		IPLockoutDuration:  15 * time.Minute,
		AccessTokenTTL:     time.Hour,
		RefreshTokenTTL:    168 * time.Hour,
		SessionDuration:    24 * time.Hour,
	}

	suite.handler = NewAuthHandler(suite.mockDB, unreachableRedis(), suite.cryptoSvc, suite.cfg)
	suite.userID = uuid.New()
}

func (suite *AuthHandlerTestSuite) TestNewAuthHandler() {
	handler := NewAuthHandler(suite.mockDB, nil, suite.cryptoSvc, suite.cfg)
	suite.NotNil(handler)
	suite.Equal(suite.mockDB, handler.db)
	suite.Equal(suite.cryptoSvc, handler.crypto)
	suite.Equal(suite.cfg, handler.config)
}

func (suite *AuthHandlerTestSuite) TestRegisterDisabled() {
	config.RegEnabled.Store(0)

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	reqBody := map[string]string{
		"username": "newuser",
		"email":    "newuser@example.com",
		"password": "longenoughpassword",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(403, resp.StatusCode)
}

func (suite *AuthHandlerTestSuite) TestRegisterRejectsInvalidEmail() {
	config.RegEnabled.Store(1)
	defer config.RegEnabled.Store(0)

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	reqBody := map[string]string{
		"username": "newuser",
		"email":    "not-an-email",
		"password": "longenoughpassword",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(400, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Equal("Invalid email address", response["error"])
}

func (suite *AuthHandlerTestSuite) TestRegisterRejectsBadUsername() {
	config.RegEnabled.Store(1)
	defer config.RegEnabled.Store(0)

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	// Two characters is below the minimum
	reqBody := map[string]string{
		"username": "ab",
		"email":    "newuser@example.com",
		"password": "longenoughpassword",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(400, resp.StatusCode)
}

func (suite *AuthHandlerTestSuite) TestRegisterRejectsShortPassword() {
	config.RegEnabled.Store(1)
	defer config.RegEnabled.Store(0)

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	reqBody := map[string]string{
		"username": "newuser",
		"email":    "newuser@example.com",
		"password": "short",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(400, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Equal("Password must be at least 8 characters long", response["error"])
}

func (suite *AuthHandlerTestSuite) TestRegisterDuplicateEmail() {
	config.RegEnabled.Store(1)
	defer config.RegEnabled.Store(0)

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "INSERT INTO users")
	}), mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything).Return(
		errors.New(`ERROR: duplicate key value violates unique constraint "users_email_key"`))

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	reqBody := map[string]string{
		"username": "newuser",
		"email":    "taken@example.com",
		"password": "longenoughpassword",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(409, resp.StatusCode)
}

func (suite *AuthHandlerTestSuite) TestLoginRequiresIdentifierAndPassword() {
	app := fiber.New()
	app.Post("/login", suite.handler.Login)

	cases := []map[string]string{
		{},
		{"email": "user@example.com"},
		{"password": "somepassword"},
	}
	for _, reqBody := range cases {
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest("POST", "/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req, -1)

		suite.NoError(err)
		suite.Equal(400, resp.StatusCode)
	}
}

func (suite *AuthHandlerTestSuite) TestLoginUnknownUser() {
	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM users")
	}), mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).Return(pgx.ErrNoRows)

	app := fiber.New()
	app.Post("/login", suite.handler.Login)

	reqBody := map[string]string{
		"email":    "ghost@example.com",
		"password": "whatever123",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(401, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Equal("Invalid credentials", response["error"])
}

// loginScanStub primes the 12-column user row Login reads
func (suite *AuthHandlerTestSuite) loginScanStub(passwordHash string, failedAttempts int, lockedUntil *time.Time, mfaEnabled bool) *MockRow {
	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM users")
	}), mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if uid, ok := args[0].(*uuid.UUID); ok {
			*uid = suite.userID
		}
		if username, ok := args[1].(*string); ok {
			*username = "testuser"
		}
		if email, ok := args[2].(*string); ok {
			*email = "testuser@example.com"
		}
		if hash, ok := args[3].(*string); ok {
			*hash = passwordHash
		}
		if role, ok := args[4].(*string); ok {
			*role = "student"
		}
		if attempts, ok := args[6].(*int); ok {
			*attempts = failedAttempts
		}
		if lu, ok := args[7].(**time.Time); ok {
			*lu = lockedUntil
		}
		if enabled, ok := args[8].(*bool); ok {
			*enabled = mfaEnabled
		}
	}).Return(nil)

	return mockRow
}

func hashFor(password string) string {
	salt := make([]byte, 32)
	_, _ = rand.Read(salt)
	return crypto.HashPassword(password, salt)
}

func (suite *AuthHandlerTestSuite) TestLoginLockedAccount() {
	lockedUntil := time.Now().Add(10 * time.Minute)
	suite.loginScanStub(hashFor("correct-password"), 7, &lockedUntil, false)

	app := fiber.New()
	app.Post("/login", suite.handler.Login)

	reqBody := map[string]string{
		"email":    "testuser@example.com",
		"password": "correct-password",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(423, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Contains(response, "locked_until")
	suite.Contains(response, "retry_after_seconds")
}

func (suite *AuthHandlerTestSuite) TestLoginWrongPasswordCountsFailure() {
	suite.loginScanStub(hashFor("correct-password"), 0, nil, false)

	// First failure only bumps the counter, no lockout yet
	suite.mockDB.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "failed_attempts")
	}), mock.Anything, mock.Anything).Return(int64(1), nil)

	app := fiber.New()
	app.Post("/login", suite.handler.Login)

	reqBody := map[string]string{
		"email":    "testuser@example.com",
		"password": "wrong-password",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(401, resp.StatusCode)
	suite.mockDB.AssertExpectations(suite.T())
}

func (suite *AuthHandlerTestSuite) TestLoginLocksAfterRepeatedFailures() {
	// Six prior failures; this one crosses the long lockout threshold
	suite.loginScanStub(hashFor("correct-password"), 6, nil, false)

	suite.mockDB.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "locked_until")
	}), mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)

	app := fiber.New()
	app.Post("/login", suite.handler.Login)

	reqBody := map[string]string{
		"email":    "testuser@example.com",
		"password": "wrong-password",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(423, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Contains(response, "locked_until")
	retry, ok := response["retry_after_seconds"].(float64)
	suite.True(ok)
	suite.Greater(retry, float64(13*60))
}

func (suite *AuthHandlerTestSuite) TestLoginPromptsForMFA() {
	suite.loginScanStub(hashFor("correct-password"), 0, nil, true)

	app := fiber.New()
	app.Post("/login", suite.handler.Login)

	// Correct password but no code yet
	reqBody := map[string]string{
		"email":    "testuser@example.com",
		"password": "correct-password",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(200, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Equal(true, response["mfa_required"])
	suite.NotContains(response, "token")
}

// =====================
// EventsHandler Tests
// =====================

type EventsHandlerTestSuite struct {
	suite.Suite
	handler *EventsHandler
	mockDB  *MockDB
	app     *fiber.App
	userID  uuid.UUID
}

func (suite *EventsHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}
	suite.userID = uuid.New()

	cfg := &config.Config{}
	activity := services.NewActivityService(suite.mockDB)
	suite.handler = NewEventsHandler(suite.mockDB, unreachableRedis(), cfg, activity)

	suite.app = fiber.New()
	suite.app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		return c.Next()
	})
	suite.app.Post("/events", suite.handler.CreateEvent)
	suite.app.Get("/events/:id", suite.handler.GetEvent)
}

func (suite *EventsHandlerTestSuite) TestCreateEventValidation() {
	validBody := func() map[string]interface{} {
		return map[string]interface{}{
			"title":       "Intro to Distributed Systems",
			"description": "Hands-on workshop",
			"start_time":  time.Now().Add(24 * time.Hour).Format(time.RFC3339),
			"end_time":    time.Now().Add(26 * time.Hour).Format(time.RFC3339),
			"event_type":  "workshop",
		}
	}

	cases := []struct {
		name      string
		mutate    func(map[string]interface{})
		wantError string
	}{
		{
			name:      "missing title",
			mutate:    func(b map[string]interface{}) { b["title"] = "   " },
			wantError: "Title is required",
		},
		{
			name:      "missing description",
			mutate:    func(b map[string]interface{}) { b["description"] = "" },
			wantError: "Description is required",
		},
		{
			name: "missing times",
			mutate: func(b map[string]interface{}) {
				delete(b, "start_time")
				delete(b, "end_time")
			},
			wantError: "start_time and end_time are required",
		},
		{
			name: "end before start",
			mutate: func(b map[string]interface{}) {
				b["start_time"] = time.Now().Add(26 * time.Hour).Format(time.RFC3339)
				b["end_time"] = time.Now().Add(24 * time.Hour).Format(time.RFC3339)
			},
			wantError: "end_time must be after start_time",
		},
		{
			name: "ends in the past",
			mutate: func(b map[string]interface{}) {
				b["start_time"] = time.Now().Add(-3 * time.Hour).Format(time.RFC3339)
				b["end_time"] = time.Now().Add(-2 * time.Hour).Format(time.RFC3339)
			},
			wantError: "The event cannot end in the past",
		},
		{
			name:      "unknown event type",
			mutate:    func(b map[string]interface{}) { b["event_type"] = "rave" },
			wantError: "event_type must be workshop, seminar, fest or other",
		},
		{
			name:      "negative capacity",
			mutate:    func(b map[string]interface{}) { b["capacity"] = -5 },
			wantError: "capacity cannot be negative",
		},
		{
			name:      "negative price",
			mutate:    func(b map[string]interface{}) { b["price"] = -10.0 },
			wantError: "price cannot be negative",
		},
	}

	for _, tc := range cases {
		suite.Run(tc.name, func() {
			reqBody := validBody()
			tc.mutate(reqBody)

			body, _ := json.Marshal(reqBody)
			req := httptest.NewRequest("POST", "/events", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := suite.app.Test(req, -1)

			suite.NoError(err)
			suite.Equal(400, resp.StatusCode)

			var response map[string]interface{}
			_ = json.NewDecoder(resp.Body).Decode(&response)
			suite.Equal(tc.wantError, response["error"])
		})
	}
}

func (suite *EventsHandlerTestSuite) TestCreatePersonalEventAutoApproves() {
	eventID := uuid.New()

	mockRow := &MockRow{}
	matchers := append([]interface{}{mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "INSERT INTO events")
	})}, anyArgs(18)...)
	suite.mockDB.On("QueryRow", matchers...).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if id, ok := args[0].(*uuid.UUID); ok {
			*id = eventID
		}
		if createdAt, ok := args[1].(*time.Time); ok {
			*createdAt = time.Now()
		}
	}).Return(nil)

	// Activity recording is best effort; a failed ledger write must not
	// fail the request
	suite.mockDB.On("Begin", mock.Anything).Return(nil, errors.New("ledger unavailable"))

	reqBody := map[string]interface{}{
		"title":       "Study Jam",
		"description": "Informal exam prep meetup",
		"start_time":  time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"end_time":    time.Now().Add(27 * time.Hour).Format(time.RFC3339),
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(201, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Equal(eventID.String(), response["id"])
	suite.Equal("approved", response["status"])
}

func (suite *EventsHandlerTestSuite) TestGetEventRejectsBadID() {
	req := httptest.NewRequest("GET", "/events/not-a-uuid", nil)

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(400, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Equal("Invalid event ID", response["error"])
}

func TestValidateEventAction(t *testing.T) {
	cases := []struct {
		action  string
		status  string
		want    string
		wantErr bool
	}{
		{"submit", "draft", "pending", false},
		{"submit", "rejected", "pending", false},
		{"submit", "approved", "", true},
		{"submit", "pending", "", true},
		{"approve", "pending", "approved", false},
		{"approve", "draft", "approved", false}, // manager shortcut past review
		{"approve", "approved", "", true},
		{"approve", "rejected", "", true},
		{"reject", "pending", "rejected", false},
		{"reject", "approved", "rejected", false}, // a live event can be revoked
		{"reject", "draft", "", true},
		{"reject", "rejected", "", true},
		{"unpublish", "approved", "pending", false}, // back to review, not to draft
		{"unpublish", "pending", "", true},
		{"unpublish", "draft", "", true},
		{"redraft", "rejected", "draft", false},
		{"redraft", "pending", "", true},
		{"redraft", "approved", "", true},
		{"archive", "draft", "", true},
	}

	for _, tc := range cases {
		got, err := validateEventAction(tc.action, tc.status)
		if tc.wantErr {
			assert.Error(t, err, "%s on %s should be rejected", tc.action, tc.status)
		} else {
			assert.NoError(t, err, "%s on %s should be allowed", tc.action, tc.status)
			assert.Equal(t, tc.want, got)
		}
	}
}

// =====================
// CommunitiesHandler Tests
// =====================

type CommunitiesHandlerTestSuite struct {
	suite.Suite
	handler *CommunitiesHandler
	mockDB  *MockDB
	app     *fiber.App
	userID  uuid.UUID
}

func (suite *CommunitiesHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}
	suite.userID = uuid.New()

	cfg := &config.Config{}
	activity := services.NewActivityService(suite.mockDB)
	suite.handler = NewCommunitiesHandler(suite.mockDB, unreachableRedis(), cfg, activity)

	suite.app = fiber.New()
	suite.app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		return c.Next()
	})
	suite.app.Post("/communities", suite.handler.CreateCommunity)
	suite.app.Get("/communities", suite.handler.ListCommunities)
}

func (suite *CommunitiesHandlerTestSuite) TestCreateCommunityRequiresName() {
	for _, reqBody := range []map[string]string{{}, {"name": "   "}} {
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest("POST", "/communities", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := suite.app.Test(req, -1)

		suite.NoError(err)
		suite.Equal(400, resp.StatusCode)

		var response map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&response)
		suite.Equal("Name is required", response["error"])
	}
}

func (suite *CommunitiesHandlerTestSuite) TestCreateCommunitySuccess() {
	communityID := uuid.New()

	mockTx := &MockTx{}
	suite.mockDB.On("Begin", mock.Anything).Return(mockTx, nil)

	mockRow := &MockRow{}
	mockTx.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "INSERT INTO communities")
	}), mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything).Run(func(args mock.Arguments) {
		if id, ok := args[0].(*uuid.UUID); ok {
			*id = communityID
		}
	}).Return(nil)

	mockTx.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "community_memberships")
	}), mock.Anything, mock.Anything).Return(int64(1), nil)

	mockTx.On("Commit", mock.Anything).Return(nil)
	mockTx.On("Rollback", mock.Anything).Return(nil)

	reqBody := map[string]interface{}{
		"name":        "Tech Innovators",
		"description": "Builders and tinkerers",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/communities", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(201, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Equal(communityID.String(), response["id"])
	suite.Equal("tech-innovators", response["slug"])
	suite.Equal("owner", response["role"])
}

func (suite *CommunitiesHandlerTestSuite) TestCreateCommunityDuplicateName() {
	mockTx := &MockTx{}
	suite.mockDB.On("Begin", mock.Anything).Return(mockTx, nil)

	mockRow := &MockRow{}
	mockTx.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "INSERT INTO communities")
	}), mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything).Return(
		errors.New(`ERROR: duplicate key value violates unique constraint "communities_name_key"`))

	mockTx.On("Rollback", mock.Anything).Return(nil)

	reqBody := map[string]string{"name": "Tech Innovators"}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/communities", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(409, resp.StatusCode)
}

func (suite *CommunitiesHandlerTestSuite) TestListCommunitiesEmpty() {
	mockRows := &MockRows{}
	suite.mockDB.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM communities")
	}), mock.Anything).Return(mockRows, nil)
	mockRows.On("Next").Return(false)

	req := httptest.NewRequest("GET", "/communities", nil)

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(200, resp.StatusCode)

	var response []interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Empty(response)
	suite.True(mockRows.closed)
}

// =====================
// ScanHandler Tests
// =====================

type ScanHandlerTestSuite struct {
	suite.Suite
	handler *ScanHandler
	mockDB  *MockDB
	signer  *crypto.TicketSigner
	tickets *services.TicketService
	app     *fiber.App
	userID  uuid.UUID
}

func (suite *ScanHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}
	suite.userID = uuid.New()

	secret := make([]byte, 64)
	if _, err := rand.Read(secret); err != nil {
		suite.T().Fatalf("Failed to generate random data: %v", err)
	}
	suite.signer = crypto.NewTicketSigner(secret)
	suite.tickets = services.NewTicketService(unreachableRedis(), suite.signer)

	cfg := &config.Config{}
	activity := services.NewActivityService(suite.mockDB)
	suite.handler = NewScanHandler(suite.mockDB, unreachableRedis(), cfg, suite.tickets, activity, nil, nil)

	suite.app = fiber.New()
	suite.app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		return c.Next()
	})
	suite.app.Post("/events/:id/scan", suite.handler.ScanQR)
}

func (suite *ScanHandlerTestSuite) TestParseScanPayload() {
	qr := uuid.New()

	// Bare UUIDs come from printed tickets and never expire
	parsed, ok := suite.handler.parseScanPayload(qr.String())
	suite.True(ok)
	suite.Equal(qr, parsed)

	// Freshly issued dynamic payload carries a valid signature
	ticket := suite.tickets.IssueTicket(qr.String())
	parsed, ok = suite.handler.parseScanPayload(ticket.FullPayload)
	suite.True(ok)
	suite.Equal(qr, parsed)

	// Truncated payload
	_, ok = suite.handler.parseScanPayload(fmt.Sprintf("%s:%d", qr, time.Now().Unix()))
	suite.False(ok)

	// Tampered signature
	_, ok = suite.handler.parseScanPayload(ticket.FullPayload + "x")
	suite.False(ok)

	// Screenshot of an old ticket: signature is genuine but stale
	staleTS := time.Now().Add(-10 * time.Minute).Unix()
	stale := fmt.Sprintf("%s:%d:%s", qr, staleTS, suite.signer.Sign(qr.String(), staleTS))
	_, ok = suite.handler.parseScanPayload(stale)
	suite.False(ok)

	// Not a UUID at all
	_, ok = suite.handler.parseScanPayload("hello world")
	suite.False(ok)
}

func (suite *ScanHandlerTestSuite) TestScanQRRejectsBadEventID() {
	reqBody := map[string]string{"qr_code": uuid.New().String()}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/events/not-a-uuid/scan", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(400, resp.StatusCode)
}

func (suite *ScanHandlerTestSuite) TestScanQRRequiresPayload() {
	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest("POST", "/events/"+uuid.New().String()+"/scan", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(400, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Equal("qr_code is required", response["error"])
}

// =====================
// UsersHandler Tests
// =====================

type UsersHandlerTestSuite struct {
	suite.Suite
	handler *UsersHandler
	mockDB  *MockDB
	app     *fiber.App
	userID  uuid.UUID
}

func (suite *UsersHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}
	suite.userID = uuid.New()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		suite.T().Fatalf("Failed to generate random data: %v", err)
	}

	cfg := &config.Config{EncryptionKey: key}
	suite.handler = NewUsersHandler(suite.mockDB, unreachableRedis(), crypto.NewCryptoService(key), cfg)

	suite.app = fiber.New()
	suite.app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		return c.Next()
	})
	suite.app.Patch("/users/me", suite.handler.UpdateProfile)
	suite.app.Post("/users/me/accomplishments", suite.handler.CreateAccomplishment)
}

func (suite *UsersHandlerTestSuite) TestUpdateProfileRejectsBadExperienceLevel() {
	body, _ := json.Marshal(map[string]string{"experience_level": "ninja"})
	req := httptest.NewRequest("PATCH", "/users/me", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(400, resp.StatusCode)
}

func (suite *UsersHandlerTestSuite) TestUpdateProfileRejectsBadGraduationYear() {
	body, _ := json.Marshal(map[string]int{"graduation_year": 1900})
	req := httptest.NewRequest("PATCH", "/users/me", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(400, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Equal("graduation_year out of range", response["error"])
}

func (suite *UsersHandlerTestSuite) TestCreateAccomplishmentValidation() {
	cases := []struct {
		name      string
		body      map[string]interface{}
		wantError string
	}{
		{
			name:      "missing title",
			body:      map[string]interface{}{},
			wantError: "Title is required",
		},
		{
			name:      "unknown category",
			body:      map[string]interface{}{"title": "Hackathon Winner", "category": "trophy"},
			wantError: "Invalid category",
		},
		{
			name:      "bad date format",
			body:      map[string]interface{}{"title": "Hackathon Winner", "date_earned": "13/01/2025"},
			wantError: "date_earned must be YYYY-MM-DD",
		},
	}

	for _, tc := range cases {
		suite.Run(tc.name, func() {
			body, _ := json.Marshal(tc.body)
			req := httptest.NewRequest("POST", "/users/me/accomplishments", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := suite.app.Test(req, -1)

			suite.NoError(err)
			suite.Equal(400, resp.StatusCode)

			var response map[string]interface{}
			_ = json.NewDecoder(resp.Body).Decode(&response)
			suite.Equal(tc.wantError, response["error"])
		})
	}
}

// =====================
// FeedHandler Tests
// =====================

type FeedHandlerTestSuite struct {
	suite.Suite
	handler *FeedHandler
	mockDB  *MockDB
	app     *fiber.App
	userID  uuid.UUID
}

func (suite *FeedHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}
	suite.userID = uuid.New()

	suite.handler = NewFeedHandler(suite.mockDB, unreachableRedis(), &config.Config{})

	suite.app = fiber.New()
	suite.app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		return c.Next()
	})
	suite.app.Post("/feed/:id/comments", suite.handler.AddComment)
}

func (suite *FeedHandlerTestSuite) TestAddCommentRejectsBadItemID() {
	body, _ := json.Marshal(map[string]string{"text": "Nice event!"})
	req := httptest.NewRequest("POST", "/feed/not-a-uuid/comments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(400, resp.StatusCode)
}

func (suite *FeedHandlerTestSuite) TestAddCommentRequiresText() {
	// Markup-only input sanitizes down to nothing
	for _, text := range []string{"", "   ", "<script>alert(1)</script>"} {
		body, _ := json.Marshal(map[string]string{"text": text})
		req := httptest.NewRequest("POST", "/feed/"+uuid.New().String()+"/comments", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := suite.app.Test(req, -1)

		suite.NoError(err)
		suite.Equal(400, resp.StatusCode)

		var response map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&response)
		suite.Equal("Comment text is required", response["error"])
	}
}

// =====================
// RegistrationsHandler Tests
// =====================

type RegistrationsHandlerTestSuite struct {
	suite.Suite
	handler *RegistrationsHandler
	mockDB  *MockDB
	app     *fiber.App
	userID  uuid.UUID
}

func (suite *RegistrationsHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}
	suite.userID = uuid.New()

	activity := services.NewActivityService(suite.mockDB)
	suite.handler = NewRegistrationsHandler(suite.mockDB, unreachableRedis(), &config.Config{}, activity, nil)

	suite.app = fiber.New()
	suite.app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		return c.Next()
	})
	suite.app.Get("/events/:id/registrations/export", suite.handler.ExportRegistrationsCSV)
}

func (suite *RegistrationsHandlerTestSuite) TestExportRegistrationsCSVQuotesFields() {
	eventID := uuid.New()

	// Caller is the organizer
	eventRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM events")
	}), eventID).Return(eventRow)
	eventRow.On("Scan", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if id, ok := args[0].(*uuid.UUID); ok {
			*id = suite.userID
		}
	}).Return(nil)

	registeredAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	mockRows := &MockRows{}
	suite.mockDB.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM event_registrations")
	}), eventID).Return(mockRows, nil)
	mockRows.On("Next").Return(true).Once()
	mockRows.On("Next").Return(false)
	mockRows.On("Scan", anyArgs(16)...).Run(func(args mock.Arguments) {
		*(args[0].(*string)) = "jane"
		*(args[1].(*string)) = "jane@example.com"
		// Commas and quotes must survive the export intact
		*(args[2].(*string)) = `Jane "JJ"`
		*(args[3].(*string)) = "Doe, Jr."
		*(args[4].(*string)) = "approved"
		*(args[5].(*string)) = "paid"
		*(args[6].(*int)) = 1
		*(args[7].(*time.Time)) = registeredAt
	}).Return(nil)

	req := httptest.NewRequest("GET", "/events/"+eventID.String()+"/registrations/export", nil)

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(200, resp.StatusCode)
	suite.Contains(resp.Header.Get("Content-Type"), "text/csv")

	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	records, err := csv.NewReader(buf).ReadAll()
	suite.NoError(err)
	suite.Len(records, 2)
	suite.Equal("username", records[0][0])
	suite.Equal(`Jane "JJ"`, records[1][2])
	suite.Equal("Doe, Jr.", records[1][3])
	suite.Equal("2026-03-14T09:00:00Z", records[1][7])
	suite.True(mockRows.closed)
}

// =====================
// ProjectsHandler Tests
// =====================

type ProjectsHandlerTestSuite struct {
	suite.Suite
	handler *ProjectsHandler
	mockDB  *MockDB
	app     *fiber.App
	userID  uuid.UUID
}

func (suite *ProjectsHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}
	suite.userID = uuid.New()

	activity := services.NewActivityService(suite.mockDB)
	suite.handler = NewProjectsHandler(suite.mockDB, unreachableRedis(), &config.Config{}, activity)

	suite.app = fiber.New()
	suite.app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		return c.Next()
	})
	suite.app.Post("/projects", suite.handler.CreateProject)
	suite.app.Get("/projects", suite.handler.ListProjects)
	suite.app.Patch("/projects/:id", suite.handler.UpdateProject)
}

func (suite *ProjectsHandlerTestSuite) TestCreateProjectValidation() {
	cases := []struct {
		name      string
		body      map[string]interface{}
		wantError string
	}{
		{
			name:      "missing community",
			body:      map[string]interface{}{"title": "Campus App"},
			wantError: "Invalid community ID",
		},
		{
			name:      "missing title",
			body:      map[string]interface{}{"community_id": uuid.New().String(), "title": "   "},
			wantError: "Title is required",
		},
	}

	for _, tc := range cases {
		suite.Run(tc.name, func() {
			body, _ := json.Marshal(tc.body)
			req := httptest.NewRequest("POST", "/projects", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := suite.app.Test(req, -1)

			suite.NoError(err)
			suite.Equal(400, resp.StatusCode)

			var response map[string]interface{}
			_ = json.NewDecoder(resp.Body).Decode(&response)
			suite.Equal(tc.wantError, response["error"])
		})
	}
}

func (suite *ProjectsHandlerTestSuite) TestCreateProjectRequiresMembership() {
	communityID := uuid.New()

	communityRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM communities")
	}), communityID).Return(communityRow)
	communityRow.On("Scan", mock.Anything).Run(func(args mock.Arguments) {
		if name, ok := args[0].(*string); ok {
			*name = "Tech Innovators"
		}
	}).Return(nil)

	// Not an active member, not a superuser
	membershipRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "community_memberships")
	}), communityID, suite.userID).Return(membershipRow)
	membershipRow.On("Scan", mock.Anything).Return(pgx.ErrNoRows)

	superuserRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "is_superuser")
	}), suite.userID).Return(superuserRow)
	superuserRow.On("Scan", mock.Anything).Return(pgx.ErrNoRows)

	reqBody := map[string]interface{}{
		"community_id": communityID.String(),
		"title":        "Campus App",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/projects", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(403, resp.StatusCode)
}

func (suite *ProjectsHandlerTestSuite) TestCreateProjectRecordsActivity() {
	communityID := uuid.New()
	projectID := uuid.New()

	communityRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM communities")
	}), communityID).Return(communityRow)
	communityRow.On("Scan", mock.Anything).Run(func(args mock.Arguments) {
		if name, ok := args[0].(*string); ok {
			*name = "Tech Innovators"
		}
	}).Return(nil)

	membershipRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "community_memberships")
	}), communityID, suite.userID).Return(membershipRow)
	membershipRow.On("Scan", mock.Anything).Run(func(args mock.Arguments) {
		if role, ok := args[0].(*string); ok {
			*role = "member"
		}
	}).Return(nil)

	insertRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "INSERT INTO projects")
	}), communityID, suite.userID, "Campus App", mock.Anything).Return(insertRow)
	insertRow.On("Scan", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if id, ok := args[0].(*uuid.UUID); ok {
			*id = projectID
		}
		if createdAt, ok := args[1].(*time.Time); ok {
			*createdAt = time.Now()
		}
	}).Return(nil)

	// The ledger write is attempted with the project.created verb; a failed
	// write must not fail the request
	suite.mockDB.On("Begin", mock.Anything).Return(nil, errors.New("ledger unavailable"))

	reqBody := map[string]interface{}{
		"community_id": communityID.String(),
		"title":        "Campus App",
		"description":  "A mobile app for campus life",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/projects", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(201, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Equal(projectID.String(), response["id"])
	suite.Equal("active", response["status"])
	suite.Equal("Tech Innovators", response["community_name"])
	suite.mockDB.AssertExpectations(suite.T())
}

func (suite *ProjectsHandlerTestSuite) TestListProjectsRejectsBadStatus() {
	req := httptest.NewRequest("GET", "/projects?status=abandoned", nil)

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(400, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Equal("status must be active, completed or archived", response["error"])
}

func (suite *ProjectsHandlerTestSuite) TestUpdateProjectForbiddenForOutsiders() {
	projectID := uuid.New()
	communityID := uuid.New()
	ownerID := uuid.New() // someone else

	projectRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM projects")
	}), projectID).Return(projectRow)
	projectRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if id, ok := args[0].(*uuid.UUID); ok {
			*id = communityID
		}
		if id, ok := args[1].(*uuid.UUID); ok {
			*id = ownerID
		}
		if status, ok := args[2].(*string); ok {
			*status = "active"
		}
		if title, ok := args[3].(*string); ok {
			*title = "Campus App"
		}
	}).Return(nil)

	membershipRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "community_memberships")
	}), communityID, suite.userID).Return(membershipRow)
	membershipRow.On("Scan", mock.Anything).Return(pgx.ErrNoRows)

	superuserRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "is_superuser")
	}), suite.userID).Return(superuserRow)
	superuserRow.On("Scan", mock.Anything).Return(pgx.ErrNoRows)

	body, _ := json.Marshal(map[string]string{"status": "completed"})
	req := httptest.NewRequest("PATCH", "/projects/"+projectID.String(), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(403, resp.StatusCode)
}

// =====================
// TeamsHandler Tests
// =====================

type TeamsHandlerTestSuite struct {
	suite.Suite
	handler *TeamsHandler
	mockDB  *MockDB
	app     *fiber.App
	userID  uuid.UUID
}

func (suite *TeamsHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}
	suite.userID = uuid.New()

	activity := services.NewActivityService(suite.mockDB)
	suite.handler = NewTeamsHandler(suite.mockDB, unreachableRedis(), &config.Config{}, activity)

	suite.app = fiber.New()
	suite.app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		return c.Next()
	})
	suite.app.Post("/teams/join", suite.handler.JoinTeam)
}

func (suite *TeamsHandlerTestSuite) TestJoinTeamRejectsMalformedToken() {
	body, _ := json.Marshal(map[string]string{"invite_token": "definitely-not-a-uuid"})
	req := httptest.NewRequest("POST", "/teams/join", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(404, resp.StatusCode)

	var response map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&response)
	suite.Equal("Invalid invite token", response["error"])
}

func (suite *TeamsHandlerTestSuite) TestJoinTeamUnknownToken() {
	mockTx := &MockTx{}
	suite.mockDB.On("Begin", mock.Anything).Return(mockTx, nil)

	mockRow := &MockRow{}
	mockTx.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "event_teams")
	}), mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything).Return(pgx.ErrNoRows)

	mockTx.On("Rollback", mock.Anything).Return(nil)

	body, _ := json.Marshal(map[string]string{"invite_token": uuid.New().String()})
	req := httptest.NewRequest("POST", "/teams/join", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.app.Test(req, -1)

	suite.NoError(err)
	suite.Equal(404, resp.StatusCode)
}

// =====================
// Test Suite Runners
// =====================

func TestAuthHandlerSuite(t *testing.T) {
	suite.Run(t, new(AuthHandlerTestSuite))
}

func TestEventsHandlerSuite(t *testing.T) {
	suite.Run(t, new(EventsHandlerTestSuite))
}

func TestCommunitiesHandlerSuite(t *testing.T) {
	suite.Run(t, new(CommunitiesHandlerTestSuite))
}

func TestScanHandlerSuite(t *testing.T) {
	suite.Run(t, new(ScanHandlerTestSuite))
}

func TestUsersHandlerSuite(t *testing.T) {
	suite.Run(t, new(UsersHandlerTestSuite))
}

func TestFeedHandlerSuite(t *testing.T) {
	suite.Run(t, new(FeedHandlerTestSuite))
}

func TestRegistrationsHandlerSuite(t *testing.T) {
	suite.Run(t, new(RegistrationsHandlerTestSuite))
}

func TestProjectsHandlerSuite(t *testing.T) {
	suite.Run(t, new(ProjectsHandlerTestSuite))
}

func TestTeamsHandlerSuite(t *testing.T) {
	suite.Run(t, new(TeamsHandlerTestSuite))
}

// =====================
// Helper Functions
// =====================

func contains(s, substr string) bool {
	return len(s) > 0 && len(substr) > 0 && (s == substr || len(s) >= len(substr) && (s[:len(substr)] == substr || s[len(s)-len(substr):] == substr || containsSubstring(s, substr)))
}

func containsSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestHelperFunctions(t *testing.T) {
	assert.True(t, contains("INSERT INTO users", "INSERT"))
	assert.True(t, contains("SELECT * FROM events WHERE id = 1", "events"))
	assert.False(t, contains("SELECT * FROM events", "users"))
}
