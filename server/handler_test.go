package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/vultisig/vultisig-chatroom/chat"
	"github.com/vultisig/vultisig-chatroom/mocks"
	"github.com/vultisig/vultisig-chatroom/model"
	"github.com/vultisig/vultisig-chatroom/session"
	"github.com/vultisig/vultisig-chatroom/storage"
)

type testClient struct {
	t *testing.T
	s *Server
}

func newTestClient(t *testing.T, tokens *session.Issuer) *testClient {
	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })
	return &testClient{t: t, s: NewServer(0, chat.NewService(store), tokens, log.OFF)}
}

func (tc *testClient) do(method, target, user, body string, headers ...string) *httptest.ResponseRecorder {
	tc.t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	tc.s.e.ServeHTTP(rec, req)
	return rec
}

func (tc *testClient) join(name string) {
	tc.t.Helper()
	rec := tc.do(http.MethodPost, "/participants", "", `{"name":"`+name+`"}`)
	require.Equal(tc.t, http.StatusCreated, rec.Code)
}

func (tc *testClient) send(from, to, text, messageType string) int {
	tc.t.Helper()
	body, err := json.Marshal(map[string]string{"to": to, "text": text, "type": messageType})
	require.NoError(tc.t, err)
	return tc.do(http.MethodPost, "/messages", from, string(body)).Code
}

func (tc *testClient) messages(user, query string, headers ...string) []model.Message {
	tc.t.Helper()
	rec := tc.do(http.MethodGet, "/messages"+query, user, "", headers...)
	require.Equal(tc.t, http.StatusOK, rec.Code)
	var messages []model.Message
	require.NoError(tc.t, json.Unmarshal(rec.Body.Bytes(), &messages))
	return messages
}

func texts(messages []model.Message) []string {
	return lo.Map(messages, func(m model.Message, _ int) string { return m.Text })
}

func TestPing(t *testing.T) {
	tc := newTestClient(t, nil)
	rec := tc.do(http.MethodGet, "/ping", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestParticipants(t *testing.T) {
	req := require.New(t)
	tc := newTestClient(t, nil)

	rec := tc.do(http.MethodGet, "/participants", "", "")
	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`[]`, rec.Body.String())

	tc.join("alice")
	rec = tc.do(http.MethodPost, "/participants", "", `{"name":"alice"}`)
	req.Equal(http.StatusConflict, rec.Code)

	rec = tc.do(http.MethodPost, "/participants", "", `{"name":""}`)
	req.Equal(http.StatusUnprocessableEntity, rec.Code)
	req.JSONEq(`["\"name\" is required"]`, rec.Body.String())

	rec = tc.do(http.MethodPost, "/participants", "", `{}`)
	req.Equal(http.StatusUnprocessableEntity, rec.Code)

	rec = tc.do(http.MethodPost, "/participants", "", `{"name":`)
	req.Equal(http.StatusBadRequest, rec.Code)

	rec = tc.do(http.MethodGet, "/participants/", "", "")
	req.Equal(http.StatusOK, rec.Code)
	var participants []model.Participant
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &participants))
	req.Len(participants, 1)
	req.Equal("alice", participants[0].Name)
	req.NotZero(participants[0].LastStatus)

	// exactly one join notice
	statuses := lo.Filter(tc.messages("bob", ""), func(m model.Message, _ int) bool {
		return m.Type == model.TypeStatus
	})
	req.Len(statuses, 1)
	req.Equal(model.BroadcastTarget, statuses[0].To)
}

func TestPostMessage(t *testing.T) {
	req := require.New(t)
	tc := newTestClient(t, nil)
	tc.join("alice")

	req.Equal(http.StatusCreated, tc.send("alice", model.BroadcastTarget, "hi", "message"))
	req.Equal(http.StatusCreated, tc.send("alice", "bob", "psst", "private_message"))

	t.Run("every validation failure is reported", func(t *testing.T) {
		rec := tc.do(http.MethodPost, "/messages", "alice", `{"type":"status"}`)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		var details []string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &details))
		require.Len(t, details, 3)
	})

	t.Run("unknown sender", func(t *testing.T) {
		require.Equal(t, http.StatusUnprocessableEntity, tc.send("mallory", model.BroadcastTarget, "hi", "message"))
	})

	t.Run("missing header", func(t *testing.T) {
		require.Equal(t, http.StatusUnprocessableEntity, tc.send("", model.BroadcastTarget, "hi", "message"))
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := tc.do(http.MethodPost, "/messages", "alice", `{"to":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWrongFieldTypes(t *testing.T) {
	tc := newTestClient(t, nil)
	tc.join("alice")

	tests := []struct {
		name   string
		target string
		body   string
		detail string
	}{
		{"numeric name", "/participants", `{"name":123}`, `"name" must be a string`},
		{"numeric text", "/messages", `{"to":"Todos","text":5,"type":"message"}`, `"text" must be a string`},
		{"array recipient", "/messages", `{"to":[],"text":"hi","type":"message"}`, `"to" must be a string`},
		{"boolean type", "/messages", `{"to":"Todos","text":"hi","type":true}`, `"type" must be a string`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tc.do(http.MethodPost, tt.target, "alice", tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			var details []string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &details))
			require.Equal(t, []string{tt.detail}, details)
		})
	}

	// broken JSON is still a bad request
	require.Equal(t, http.StatusBadRequest, tc.do(http.MethodPost, "/participants", "", `{"name":`).Code)
	require.Equal(t, http.StatusBadRequest, tc.do(http.MethodPost, "/messages", "alice", `{"text"`).Code)

	participants := tc.do(http.MethodGet, "/participants", "", "")
	require.JSONEq(t, `["alice"]`, mustNames(t, participants.Body.Bytes()))
}

func mustNames(t *testing.T, body []byte) string {
	t.Helper()
	var participants []model.Participant
	require.NoError(t, json.Unmarshal(body, &participants))
	names, err := json.Marshal(lo.Map(participants, func(p model.Participant, _ int) string { return p.Name }))
	require.NoError(t, err)
	return string(names)
}

func TestGetMessages_Visibility(t *testing.T) {
	req := require.New(t)
	tc := newTestClient(t, nil)
	tc.join("alice")
	tc.join("bob")
	tc.join("carol")

	req.Equal(http.StatusCreated, tc.send("alice", "bob", "secret", "private_message"))
	req.Equal(http.StatusCreated, tc.send("carol", model.BroadcastTarget, "hello", "message"))

	req.Contains(texts(tc.messages("alice", "")), "secret")
	req.Contains(texts(tc.messages("bob", "")), "secret")
	req.NotContains(texts(tc.messages("carol", "")), "secret")
	for _, user := range []string{"alice", "bob", "carol", "dave"} {
		req.Contains(texts(tc.messages(user, "")), "hello")
	}
}

func TestGetMessages_Limit(t *testing.T) {
	req := require.New(t)
	tc := newTestClient(t, nil)
	tc.join("alice")
	for _, text := range []string{"one", "two", "three"} {
		req.Equal(http.StatusCreated, tc.send("alice", model.BroadcastTarget, text, "message"))
	}

	req.Equal([]string{"two", "three"}, texts(tc.messages("alice", "?limit=2")))
	req.Len(tc.messages("alice", ""), 4)

	for _, bad := range []string{"0", "-1", "abc"} {
		rec := tc.do(http.MethodGet, "/messages?limit="+bad, "alice", "")
		req.Equal(http.StatusUnprocessableEntity, rec.Code, bad)
	}
}

func TestDeleteMessage(t *testing.T) {
	req := require.New(t)
	tc := newTestClient(t, nil)
	tc.join("alice")
	tc.join("bob")
	req.Equal(http.StatusCreated, tc.send("alice", model.BroadcastTarget, "oops", "message"))

	messages := tc.messages("alice", "")
	target := messages[len(messages)-1]
	req.Equal("oops", target.Text)

	rec := tc.do(http.MethodDelete, "/messages/"+target.ID, "bob", "")
	req.Equal(http.StatusUnauthorized, rec.Code)
	req.Contains(texts(tc.messages("alice", "")), "oops")

	rec = tc.do(http.MethodDelete, "/messages/does-not-exist", "alice", "")
	req.Equal(http.StatusNotFound, rec.Code)

	rec = tc.do(http.MethodDelete, "/messages/"+target.ID, "alice", "")
	req.Equal(http.StatusOK, rec.Code)
	req.NotContains(texts(tc.messages("alice", "")), "oops")

	rec = tc.do(http.MethodDelete, "/messages/"+target.ID, "alice", "")
	req.Equal(http.StatusNotFound, rec.Code)
}

func TestStatus(t *testing.T) {
	req := require.New(t)
	tc := newTestClient(t, nil)
	tc.join("alice")

	req.Equal(http.StatusOK, tc.do(http.MethodPost, "/status", "alice", "").Code)
	req.Equal(http.StatusNotFound, tc.do(http.MethodPost, "/status", "ghost", "").Code)
	req.Equal(http.StatusNotFound, tc.do(http.MethodPost, "/status", "", "").Code)

	rec := tc.do(http.MethodGet, "/participants", "", "")
	var participants []model.Participant
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &participants))
	req.Len(participants, 1)
}

func TestAliceScenario(t *testing.T) {
	req := require.New(t)
	tc := newTestClient(t, nil)

	req.Equal(http.StatusCreated, tc.do(http.MethodPost, "/participants", "", `{"name":"alice"}`).Code)
	req.Equal(http.StatusConflict, tc.do(http.MethodPost, "/participants", "", `{"name":"alice"}`).Code)
	req.Equal(http.StatusCreated, tc.send("alice", model.BroadcastTarget, "hi", "message"))

	messages := tc.messages("alice", "")
	req.Len(messages, 2)
	req.Equal(model.TypeStatus, messages[0].Type)
	req.Equal(chat.JoinNotice, messages[0].Text)
	req.Equal("hi", messages[1].Text)
}

func TestSessionTokens(t *testing.T) {
	req := require.New(t)
	tc := newTestClient(t, session.NewIssuer("a-long-enough-test-secret", time.Hour))

	rec := tc.do(http.MethodPost, "/participants", "", `{"name":"alice"}`)
	req.Equal(http.StatusCreated, rec.Code)
	token := rec.Header().Get(SessionTokenHeader)
	req.NotEmpty(token)
	tc.join("bob")

	// the token wins over a spoofed header
	rec = tc.do(http.MethodPost, "/messages", "bob", `{"to":"Todos","text":"from token","type":"message"}`,
		echo.HeaderAuthorization, "Bearer "+token)
	req.Equal(http.StatusCreated, rec.Code)
	messages := tc.messages("", "", echo.HeaderAuthorization, "Bearer "+token)
	req.Equal("alice", messages[len(messages)-1].From)

	rec = tc.do(http.MethodPost, "/status", "", "", echo.HeaderAuthorization, "Bearer forged")
	req.Equal(http.StatusUnauthorized, rec.Code)

	// with tokens enabled the User header alone identifies nobody
	req.Equal(http.StatusUnauthorized, tc.do(http.MethodPost, "/status", "alice", "").Code)
	rec = tc.do(http.MethodPost, "/messages", "alice", `{"to":"Todos","text":"spoofed","type":"message"}`)
	req.Equal(http.StatusUnauthorized, rec.Code)
	rec = tc.do(http.MethodGet, "/messages", "alice", "")
	req.Equal(http.StatusUnauthorized, rec.Code)
	rec = tc.do(http.MethodDelete, "/messages/"+messages[len(messages)-1].ID, "alice", "")
	req.Equal(http.StatusUnauthorized, rec.Code)
	req.Contains(texts(tc.messages("", "", echo.HeaderAuthorization, "Bearer "+token)), "from token")

	// registration stays open
	req.Equal(http.StatusCreated, tc.do(http.MethodPost, "/participants", "", `{"name":"carol"}`).Code)
}

func TestCORS(t *testing.T) {
	tc := newTestClient(t, nil)
	rec := tc.do(http.MethodGet, "/participants", "", "", echo.HeaderOrigin, "http://example.com")
	require.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockStore := mocks.NewMockStorage(ctrl)
	s := NewServer(0, chat.NewService(mockStore), nil, log.OFF)

	mockStore.EXPECT().ListParticipants(gomock.Any()).Return(nil, errors.New("fail to list participants, err: i/o timeout"))
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/participants", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "fail to list participants, err: i/o timeout", rec.Body.String())

	// a store timeout is a store failure like any other
	mockStore.EXPECT().ListMessages(gomock.Any()).Return(nil, fmt.Errorf("fail to list messages, err: %w", context.DeadlineExceeded))
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCancelledRequest(t *testing.T) {
	tc := newTestClient(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/participants", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	tc.s.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestTimeout, rec.Code)
}
