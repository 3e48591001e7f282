package emailsvc

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Message is a plain text e-mail.
type Message struct {
	To          []mail.Address
	Subject     string
	TextContent string
}

// ConsoleService "sends" messages by writing them to a writer, and keeps them for inspection.
type ConsoleService struct {
	from       mail.Address
	subjPrefix string
	out        io.Writer // nil disables output

	mu   sync.Mutex
	sent []Message
}

func NewConsoleService(appName string, from mail.Address, out io.Writer) *ConsoleService {
	return &ConsoleService{
		from:       from,
		subjPrefix: "[" + appName + "] ",
		out:        out,
	}
}

// NewConsoleServiceMock records messages without printing them.
func NewConsoleServiceMock(appName string) *ConsoleService {
	return NewConsoleService(appName, mail.Address{Name: appName, Address: "noreply@masomo.local"}, nil)
}

func (svc *ConsoleService) Send(msg Message) error {
	if len(msg.To) == 0 || msg.TextContent == "" {
		return errors.New("message without recipient or content")
	}

	body := new(strings.Builder)
	_, _ = fmt.Fprintf(body, "From: %s\r\n", svc.from.String())
	_, _ = fmt.Fprint(body, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(body, "Subject: %s\r\n", svc.subjPrefix+msg.Subject)
	_, _ = fmt.Fprintf(body, "To: %s\r\n", joinAddresses(msg.To))

	altW := multipart.NewWriter(body)
	_, _ = fmt.Fprintf(body, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", altW.Boundary())
	w, err := altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return errors.Wrap(err, "creating text/plain part")
	}
	_, _ = fmt.Fprintf(w, "%s\r\n", msg.TextContent)
	if err = altW.Close(); err != nil {
		return errors.Wrap(err, "closing multipart writer")
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.out != nil {
		_, _ = fmt.Fprintln(svc.out, body.String())
	}
	svc.sent = append(svc.sent, msg)
	return nil
}

// Sent returns the messages sent so far.
func (svc *ConsoleService) Sent() []Message {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	msgs := make([]Message, len(svc.sent))
	copy(msgs, svc.sent)
	return msgs
}

func joinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}
