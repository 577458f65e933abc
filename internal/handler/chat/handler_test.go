package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/handler/handlertest"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/internal/service/appointment"
	"github.com/jwalitptl/clinic-api/internal/service/chat"
	"github.com/jwalitptl/clinic-api/internal/service/event"
	"github.com/jwalitptl/clinic-api/internal/service/slot"
	"github.com/jwalitptl/clinic-api/pkg/lock"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

const day = "2025-07-01"

type testEnv struct {
	srv          *handlertest.Server
	appointments *appointment.Service
	doctor       model.Caller
	patient      model.Caller
	admin        model.Caller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Nop()
	m := metrics.NewNop()
	locker := lock.NewLocalLocker()

	slots := slot.NewService(memory.NewSlotRepository(), locker, log, m)
	appointments := appointment.NewService(
		memory.NewAppointmentRepository(),
		slots,
		locker,
		event.NewService(memory.NewOutboxRepository(), log),
		log,
		m,
	)
	coordinator := chat.NewCoordinator(chat.NewRegistry(), appointments, locker, chat.NewHistory(memory.NewMessageRepository(), m), 16, log, m)

	env := &testEnv{
		srv:          handlertest.NewServer(t, NewHandler(coordinator, Config{PongWait: 5 * time.Second}, log)),
		appointments: appointments,
		doctor:       handlertest.NewCaller(model.RoleDoctor),
		patient:      handlertest.NewCaller(model.RolePatient),
		admin:        handlertest.NewCaller(model.RoleAdmin),
	}

	_, err := slots.AddSlots(context.Background(), env.doctor.ID, []model.SlotEntry{
		{Date: day, StartTime: "09:00", EndTime: "09:30"},
		{Date: day, StartTime: "10:00", EndTime: "10:30"},
	})
	require.NoError(t, err)
	return env
}

// book creates an appointment at the given time, confirmed when confirm is set.
func (e *testEnv) book(t *testing.T, at string, confirm bool) *model.Appointment {
	t.Helper()
	ctx := context.Background()
	apt, err := e.appointments.Create(ctx, &model.CreateAppointmentRequest{
		PatientID:        e.patient.ID,
		DoctorID:         e.doctor.ID,
		Date:             day,
		Time:             at,
		ConsultationType: model.ConsultationVideo,
	})
	require.NoError(t, err)
	if confirm {
		apt, err = e.appointments.Transition(ctx, apt.ID, model.AppointmentStatusConfirmed)
		require.NoError(t, err)
	}
	return apt
}

func chatPath(apt *model.Appointment, suffix string) string {
	return "/api/v1/chat/" + apt.ID.String() + suffix
}

func TestPostAndHistory(t *testing.T) {
	env := newTestEnv(t)
	apt := env.book(t, "09:00", true)

	code, resp := env.srv.Do(t, env.patient, http.MethodPost, chatPath(apt, ""), map[string]string{"message": "hello doctor"})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var sent model.ChatMessage
	resp.Decode(t, &sent)
	assert.Equal(t, env.patient.ID, sent.SenderID)
	assert.Equal(t, "hello doctor", sent.Body)

	time.Sleep(2 * time.Millisecond)
	code, _ = env.srv.Do(t, env.doctor, http.MethodPost, chatPath(apt, ""), map[string]string{"message": "hello"})
	require.Equal(t, http.StatusCreated, code)

	for _, caller := range []model.Caller{env.patient, env.doctor, env.admin} {
		code, resp = env.srv.Do(t, caller, http.MethodGet, chatPath(apt, ""), nil)
		require.Equal(t, http.StatusOK, code)
		var history []model.ChatMessage
		resp.Decode(t, &history)
		require.Len(t, history, 2)
		assert.Equal(t, "hello doctor", history[0].Body)
	}

	since := sent.CreatedAt.Format(time.RFC3339Nano)
	code, resp = env.srv.Do(t, env.doctor, http.MethodGet, chatPath(apt, "?since="+since), nil)
	require.Equal(t, http.StatusOK, code)
	var newer []model.ChatMessage
	resp.Decode(t, &newer)
	require.Len(t, newer, 1)
	assert.Equal(t, "hello", newer[0].Body)

	code, resp = env.srv.Do(t, env.doctor, http.MethodGet, chatPath(apt, "?since=yesterday"), nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "BAD_REQUEST", resp.Code())
}

func TestPost_Rejections(t *testing.T) {
	env := newTestEnv(t)
	pending := env.book(t, "09:00", false)
	open := env.book(t, "10:00", true)

	code, resp := env.srv.Do(t, env.patient, http.MethodPost, chatPath(pending, ""), map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "pending", resp.Error.Details["status"])

	code, _ = env.srv.Do(t, handlertest.NewCaller(model.RolePatient), http.MethodPost, chatPath(open, ""), map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = env.srv.Do(t, env.admin, http.MethodPost, chatPath(open, ""), map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = env.srv.Do(t, env.patient, http.MethodPost, chatPath(open, ""), map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Code())

	code, _ = env.srv.Do(t, env.patient, http.MethodPost, chatPath(open, ""), map[string]string{"message": strings.Repeat("x", 4001)})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.srv.Do(t, handlertest.NewCaller(model.RolePatient), http.MethodGet, chatPath(open, ""), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = env.srv.Do(t, env.patient, http.MethodGet, "/api/v1/chat/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMarkRead(t *testing.T) {
	env := newTestEnv(t)
	apt := env.book(t, "09:00", true)

	for _, body := range []string{"one", "two"} {
		code, _ := env.srv.Do(t, env.patient, http.MethodPost, chatPath(apt, ""), map[string]string{"message": body})
		require.Equal(t, http.StatusCreated, code)
	}

	code, resp := env.srv.Do(t, env.patient, http.MethodPatch, chatPath(apt, "/read"), nil)
	require.Equal(t, http.StatusOK, code)
	var out struct {
		Count int64 `json:"count"`
	}
	resp.Decode(t, &out)
	assert.Zero(t, out.Count, "own messages are not marked")

	code, _ = env.srv.Do(t, env.patient, http.MethodPatch, chatPath(apt, "/read"), map[string]string{"user_id": env.doctor.ID.String()})
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = env.srv.Do(t, env.admin, http.MethodPatch, chatPath(apt, "/read"), map[string]string{"user_id": env.doctor.ID.String()})
	require.Equal(t, http.StatusOK, code)
	resp.Decode(t, &out)
	assert.EqualValues(t, 2, out.Count)

	code, resp = env.srv.Do(t, env.doctor, http.MethodPatch, chatPath(apt, "/read"), nil)
	require.Equal(t, http.StatusOK, code)
	resp.Decode(t, &out)
	assert.Zero(t, out.Count)
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T, ts *httptest.Server, caller model.Caller) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/chat/ws?token=" + e.srv.Token(t, caller)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event string, data interface{}) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(chat.Envelope{Event: event, Data: raw}))
}

func (c *wsClient) next(want string) json.RawMessage {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env chat.Envelope
	require.NoError(c.t, c.conn.ReadJSON(&env))
	require.Equal(c.t, want, env.Event, "data: %s", string(env.Data))
	return env.Data
}

// quiet asserts nothing arrives. A read timeout breaks a gorilla connection,
// so it must be the client's last read.
func (c *wsClient) quiet() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, frame, err := c.conn.ReadMessage()
	require.Error(c.t, err, "unexpected frame: %s", string(frame))
}

func TestWebsocket_Conversation(t *testing.T) {
	env := newTestEnv(t)
	apt := env.book(t, "09:00", true)
	ts := httptest.NewServer(env.srv.Engine)
	defer ts.Close()

	room := chat.JoinEvent{AppointmentID: apt.ID}

	patient := env.dial(t, ts, env.patient)
	patient.send(chat.EventJoinRoom, room)
	var joined chat.RoomJoinedData
	require.NoError(t, json.Unmarshal(patient.next(chat.EventRoomJoined), &joined))
	assert.Equal(t, apt.ID, joined.AppointmentID)
	assert.Empty(t, joined.Messages)

	doctor := env.dial(t, ts, env.doctor)
	doctor.send(chat.EventJoinRoom, room)
	doctor.next(chat.EventRoomJoined)

	patient.send(chat.EventSendMessage, chat.SendEvent{AppointmentID: apt.ID, Message: "my throat hurts"})
	var ack, received model.ChatMessage
	require.NoError(t, json.Unmarshal(patient.next(chat.EventMessageSent), &ack))
	require.NoError(t, json.Unmarshal(doctor.next(chat.EventReceiveMessage), &received))
	assert.Equal(t, ack.ID, received.ID)
	assert.Equal(t, "my throat hurts", received.Body)

	doctor.send(chat.EventTyping, chat.TypingEvent{AppointmentID: apt.ID, IsTyping: true})
	var typing chat.UserTypingData
	require.NoError(t, json.Unmarshal(patient.next(chat.EventUserTyping), &typing))
	assert.Equal(t, env.doctor.ID, typing.UserID)
	assert.True(t, typing.IsTyping)

	// REST posts reach every live member. The doctor's next frame being the
	// message also shows the typing update was not echoed back.
	code, _ := env.srv.Do(t, env.doctor, http.MethodPost, chatPath(apt, ""), map[string]string{"message": "any fever?"})
	require.Equal(t, http.StatusCreated, code)
	patient.next(chat.EventReceiveMessage)
	doctor.next(chat.EventReceiveMessage)

	doctor.send(chat.EventMarkRead, chat.MarkReadEvent{AppointmentID: apt.ID})
	var receipt chat.MessagesReadData
	require.NoError(t, json.Unmarshal(patient.next(chat.EventMessagesRead), &receipt))
	assert.Equal(t, env.doctor.ID, receipt.ReaderID)
	assert.EqualValues(t, 1, receipt.Count)

	// no receipt for the reader
	doctor.send(chat.EventLeaveRoom, chat.LeaveEvent{AppointmentID: apt.ID})
	doctor.next(chat.EventRoomLeft)

	patient.send(chat.EventSendMessage, chat.SendEvent{AppointmentID: apt.ID, Message: "still there?"})
	patient.next(chat.EventMessageSent)
	doctor.quiet()
}

func TestWebsocket_Errors(t *testing.T) {
	env := newTestEnv(t)
	pending := env.book(t, "09:00", false)
	ts := httptest.NewServer(env.srv.Engine)
	defer ts.Close()

	client := env.dial(t, ts, env.patient)

	require.NoError(t, client.conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"dance"}`)))
	var failure chat.ErrorData
	require.NoError(t, json.Unmarshal(client.next(chat.EventError), &failure))
	assert.Equal(t, "BAD_REQUEST", failure.Code)

	client.send(chat.EventJoinRoom, chat.JoinEvent{AppointmentID: pending.ID})
	require.NoError(t, json.Unmarshal(client.next(chat.EventError), &failure))
	assert.Equal(t, "FORBIDDEN", failure.Code)

	client.send(chat.EventSendMessage, chat.SendEvent{AppointmentID: pending.ID, Message: "hi"})
	require.NoError(t, json.Unmarshal(client.next(chat.EventError), &failure))
	assert.Equal(t, "FORBIDDEN", failure.Code)
}

func TestWebsocket_RequiresToken(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Engine)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/chat/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
