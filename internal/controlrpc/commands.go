package controlrpc

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/percebe/percebe/internal/retryqueue"
	"github.com/percebe/percebe/internal/store"
	"github.com/percebe/percebe/internal/validation"
)

// Request is the wire shape of every control-plane call. Only the
// fields relevant to a given Command are populated.
type Request struct {
	Command   string             `json:"command"`
	Config    *store.Configuration `json:"config,omitempty"`
	LogType   string             `json:"log_type,omitempty"`
	AccountID *int               `json:"cuenta_id,omitempty"`
}

// Response is the wire shape of every control-plane reply.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// retryQueueEntry is the summarized shape get_retry_queue exposes,
// deliberately narrower than retryqueue.Item so the wire contract does
// not leak the SMTP credential snapshot or full message body.
type retryQueueEntry struct {
	Subject          string `json:"asunto"`
	Recipient        string `json:"destinatario"`
	Attempts         int    `json:"intentos"`
	NextAttemptISO   string `json:"proximo_intento"`
	CreatedAtISO     string `json:"timestamp_creacion"`
}

func (s *Server) dispatch(req Request) Response {
	switch req.Command {
	case "get_config":
		return Response{Status: "ok", Data: s.cfg.Get()}

	case "set_config":
		if req.Config == nil {
			return Response{Status: "error", Message: "falta el campo config"}
		}
		if err := validation.Validate(*req.Config); err != nil {
			return Response{Status: "error", Message: "Configuración inválida", Data: validation.FieldErrors(err)}
		}
		if err := s.cfg.Replace(*req.Config); err != nil {
			return Response{Status: "error", Message: "Error al guardar"}
		}
		return Response{Status: "ok", Message: "Configuración guardada"}

	case "get_logs":
		return s.getLogs(req.LogType)

	case "get_retry_queue":
		return s.getRetryQueue()

	case "test_connection":
		return s.testConnection(req.AccountID)

	default:
		return Response{Status: "error", Message: "Comando desconocido"}
	}
}

func (s *Server) getLogs(logType string) Response {
	var log *store.EventLog
	switch store.EventLogType(logType) {
	case store.EventLogErrors:
		log = s.logs.Errors
	case store.EventLogProcessing:
		log = s.logs.Processing
	default:
		log = s.logs.Forwarded
	}

	lines, err := log.Lines()
	if err != nil {
		return Response{Status: "error", Message: err.Error()}
	}
	return Response{Status: "ok", Data: lines}
}

func (s *Server) getRetryQueue() Response {
	items := s.queue.Snapshot()
	entries := make([]retryQueueEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, retryQueueEntry{
			Subject:        it.Message.Subject,
			Recipient:      it.Recipient,
			Attempts:       it.Attempts,
			NextAttemptISO: nextAttemptISO(it),
			CreatedAtISO:   it.CreatedAtISO,
		})
	}
	return Response{Status: "ok", Data: entries}
}

// nextAttemptISO mirrors percebe_server.py's
// datetime.fromtimestamp(...).isoformat() for the get_retry_queue reply.
func nextAttemptISO(it retryqueue.Item) string {
	return time.Unix(it.NextAttemptEpoch, 0).Format("2006-01-02T15:04:05")
}

func (s *Server) testConnection(accountID *int) Response {
	if accountID == nil {
		return Response{Status: "error", Message: "falta cuenta_id"}
	}
	accounts := s.cfg.Get().Accounts
	if *accountID < 0 || *accountID >= len(accounts) {
		return Response{Status: "error", Message: "cuenta_id fuera de rango"}
	}
	account := accounts[*accountID]

	addr := net.JoinHostPort(account.IMAPHost, "993")
	client, err := imapclient.DialTLS(addr, &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: account.IMAPHost},
	})
	if err != nil {
		return Response{Status: "error", Message: err.Error()}
	}
	defer client.Close()

	if err := client.Login(account.IMAPUser, account.IMAPPassword).Wait(); err != nil {
		return Response{Status: "error", Message: err.Error()}
	}
	client.Logout()

	return Response{Status: "ok", Message: "Conexión exitosa"}
}
