package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

var messageColumnNames = []string{"id", "chat_id", "ordinal", "role", "content", "sources", "graph_data",
	"trace_id", "post_verification_url", "created_at", "updated_at", "finished_at"}

func TestMustGetChatReturnsNotFound(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery("SELECT id, user_id, engine_name, flow_type, title").
		WithArgs("c1", "intruder").
		WillReturnError(sql.ErrNoRows)

	_, err := NewChatRepository(db).MustGetChat(context.Background(), "c1", "intruder")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMustGetChatScansFlowType(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, user_id, engine_name, flow_type, title").
		WithArgs("c2", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "engine_name", "flow_type", "title", "created_at", "updated_at"}).
			AddRow("c2", "u1", "default", "client_visit_guide", "Visit", now, now))

	chat, err := NewChatRepository(db).MustGetChat(context.Background(), "c2", "u1")
	if err != nil {
		t.Fatalf("MustGetChat() error = %v", err)
	}
	if chat.FlowType != domain.ChatFlowClientVisitGuide {
		t.Fatalf("unexpected flow type %q", chat.FlowType)
	}
}

func TestCreateMessageAssignsIDAndOrdinal(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery("INSERT INTO chat_messages").
		WithArgs(sqlmock.AnyArg(), "c1", "user", "hello", []byte("[]"), nil, "trace-1", "",
			sqlmock.AnyArg(), sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows([]string{"ordinal"}).AddRow(3))

	msg := &domain.ChatMessage{ChatID: "c1", Role: domain.RoleUser, Content: "hello", TraceID: "trace-1"}
	if err := NewChatRepository(db).CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if msg.ID == "" || msg.Ordinal != 3 {
		t.Fatalf("expected id and ordinal, got %+v", msg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveMessageReturnsNotFoundWhenNoRowsAffected(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectExec("UPDATE chat_messages").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewChatRepository(db).SaveMessage(context.Background(), &domain.ChatMessage{ID: "missing"})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetMessagesDecodesPayloads(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery("FROM chat_messages").
		WithArgs("c1", 10).
		WillReturnRows(sqlmock.NewRows(messageColumnNames).
			AddRow("m1", "c1", 1, "user", "q", []byte("[]"), nil, "t1", "", now, now, nil).
			AddRow("m2", "c1", 2, "assistant", "a", []byte(`[{"id":3,"name":"orders.xlsx"}]`),
				[]byte(`{"query":"q","entities":[1],"relationships":[2]}`), "t1", "https://verify/j1", now, now, now))

	msgs, err := NewChatRepository(db).GetMessages(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected two messages, got %d", len(msgs))
	}
	answer := msgs[1]
	if len(answer.Sources) != 1 || answer.Sources[0].Name != "orders.xlsx" {
		t.Fatalf("unexpected sources %+v", answer.Sources)
	}
	if answer.GraphData == nil || len(answer.GraphData.RelationshipIDs) != 1 || answer.GraphData.RelationshipIDs[0] != 2 {
		t.Fatalf("unexpected graph data %+v", answer.GraphData)
	}
	if answer.FinishedAt == nil || msgs[0].FinishedAt != nil || msgs[0].GraphData != nil {
		t.Fatalf("unexpected finished markers")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetMessageReturnsNotFound(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery("FROM chat_messages WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := NewChatRepository(db).GetMessage(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
