package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ZentaChain/relaytalk/pkg/crypto"
	"github.com/ZentaChain/relaytalk/pkg/protocol"
	"github.com/ZentaChain/relaytalk/pkg/session"
	"github.com/ZentaChain/relaytalk/pkg/storage"
)

// Menu options of the interactive shell
const (
	optionExit     = 0
	optionRegister = 110
	optionUsers    = 120
	optionKey      = 130
	optionPull     = 140
	optionSend     = 150
)

// console renders Session operations for a terminal
type console struct {
	session *session.Session
	db      *storage.MessageDB
	in      *bufio.Scanner
	out     io.Writer
}

func newConsole(sess *session.Session, db *storage.MessageDB, in io.Reader, out io.Writer) *console {
	return &console{
		session: sess,
		db:      db,
		in:      bufio.NewScanner(in),
		out:     out,
	}
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) register(ctx context.Context, username string) error {
	id, err := c.session.Register(ctx, username)
	if err != nil {
		return err
	}
	c.printf("Registered as %s (%s)\n", username, id)
	return nil
}

func (c *console) users(ctx context.Context) error {
	users, err := c.session.ListUsers(ctx)
	if err != nil {
		return err
	}

	c.printf("User List:\n")
	for _, u := range users {
		c.printf(" - %s (%s) [%s]\n", u.Username, u.ID, u.State)
	}
	return nil
}

func (c *console) requestKey(ctx context.Context, peer string) error {
	id, err := c.resolve(peer)
	if err != nil {
		return err
	}
	if _, err := c.session.EnsureSymmetricKey(ctx, id); err != nil {
		return err
	}

	rec, _ := c.session.Peers().Get(id)
	c.printf("Key established with %s, fingerprint %s\n", displayName(rec), crypto.Fingerprint(rec.PublicKey))
	return nil
}

func (c *console) send(ctx context.Context, peer, text string) error {
	id, err := c.resolve(peer)
	if err != nil {
		return err
	}

	msgID, err := c.session.SendText(ctx, id, text)
	if err != nil {
		return err
	}

	if c.db != nil {
		if err := c.db.SaveSent(id, msgID, text); err != nil {
			c.printf("Warning: message sent but not stored: %v\n", err)
		}
	}
	c.printf("Message %d sent\n", msgID)
	return nil
}

func (c *console) pull(ctx context.Context) error {
	received, err := c.session.PullMessages(ctx)
	if err != nil {
		return err
	}

	if len(received) == 0 {
		c.printf("No waiting messages\n")
		return nil
	}

	for _, r := range received {
		from := r.FromName
		if from == "" {
			from = r.From.String()
		}

		switch {
		case r.Err != nil:
			c.printf(" [%s] message %d could not be read: %v\n", from, r.MessageID, r.Err)
		case r.Type == protocol.MessageTypeSymmetricKey:
			c.printf(" [%s] key received\n", from)
		default:
			c.printf(" [%s] %s\n", from, r.Text)
		}

		if c.db != nil {
			if err := c.db.SaveReceived(r); err != nil {
				c.printf("Warning: message %d not stored: %v\n", r.MessageID, err)
			}
		}
	}
	return nil
}

func (c *console) history(peer string, limit int) error {
	if c.db == nil {
		return errHistoryDisabled
	}

	id, err := c.resolve(peer)
	if err != nil {
		return err
	}

	msgs, err := c.db.GetConversation(id, limit)
	if err != nil {
		return err
	}

	for _, m := range msgs {
		direction := "<"
		if m.IsOutgoing {
			direction = ">"
		}
		line := string(m.Content)
		if m.Status == storage.MessageStatusFailed {
			line = "(unreadable: " + m.Error + ")"
		}
		c.printf("%s %s %s\n", time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05"), direction, line)
	}
	return c.db.MarkConversationRead(id)
}

// errHistoryDisabled is returned by commands that read the message database
var errHistoryDisabled = errors.New("message history is disabled, set store_password")

func (c *console) conversations() error {
	if c.db == nil {
		return errHistoryDisabled
	}

	convs, err := c.db.GetConversations()
	if err != nil {
		return err
	}

	for _, conv := range convs {
		rec, _ := c.session.Peers().Get(conv.PeerID)
		rec.ID = conv.PeerID
		c.printf("%s  %-20s %3d unread  %s\n",
			time.UnixMilli(conv.LastTimestamp).Format("2006-01-02 15:04"),
			displayName(rec), conv.UnreadCount, conv.LastMessage)
	}

	total, err := c.db.CountMessages()
	if err != nil {
		return err
	}
	c.printf("%d conversations, %d stored messages\n", len(convs), total)
	return nil
}

func (c *console) search(text string, limit int) error {
	if c.db == nil {
		return errHistoryDisabled
	}

	found, err := c.db.SearchMessages(text, limit)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		c.printf("No matches\n")
		return nil
	}

	for _, m := range found {
		rec, _ := c.session.Peers().Get(m.PeerID)
		rec.ID = m.PeerID
		c.printf("%s [%s] %s\n", time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05"), displayName(rec), m.Content)
	}
	return nil
}

// identity prints the local identity and optionally exports its keys as PEM
func (c *console) identity(publicPath, privatePath string) error {
	if !c.session.Registered() {
		return fmt.Errorf("not registered yet")
	}

	rec := c.session.Identity()
	c.printf("Username:    %s\n", rec.Username)
	c.printf("ID:          %s\n", rec.ID)
	c.printf("Fingerprint: %s\n", crypto.Fingerprint(rec.PublicKey))

	if publicPath != "" {
		pub, err := crypto.ParsePublicKey(rec.PublicKey)
		if err != nil {
			return err
		}
		pemData, err := crypto.ExportPublicKeyPEM(pub)
		if err != nil {
			return err
		}
		if err := crypto.SaveKeyToFile(publicPath, pemData); err != nil {
			return fmt.Errorf("export public key: %w", err)
		}
		c.printf("Public key written to %s\n", publicPath)
	}

	if privatePath != "" {
		priv, err := crypto.ParsePrivateKey(rec.PrivateKey)
		if err != nil {
			return err
		}
		pemData, err := crypto.ExportPrivateKeyPEM(priv)
		if err != nil {
			return err
		}
		if err := crypto.SaveKeyToFile(privatePath, pemData); err != nil {
			return fmt.Errorf("export private key: %w", err)
		}
		c.printf("Private key written to %s\n", privatePath)
	}
	return nil
}

// resolve accepts a client id or a known username
func (c *console) resolve(peer string) (protocol.ClientID, error) {
	if id, err := protocol.ParseClientID(peer); err == nil {
		return id, nil
	}
	return c.session.ResolvePeer(peer)
}

func displayName(rec session.PeerRecord) string {
	if rec.Username != "" {
		return rec.Username
	}
	return rec.ID.String()
}

// run is the numbered menu loop. It returns when the user exits or input ends.
func (c *console) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		c.printf("\nChoose an option:\n")
		c.printf("%d - Register User\n", optionRegister)
		c.printf("%d - Request for clients list\n", optionUsers)
		c.printf("%d - Request for public key\n", optionKey)
		c.printf("%d - Request for waiting messages\n", optionPull)
		c.printf("%d - Send a text message\n", optionSend)
		c.printf("%d - Exit client\n", optionExit)

		line, ok := c.prompt("Enter your choice: ")
		if !ok {
			return nil
		}

		option, err := strconv.Atoi(line)
		if err != nil {
			c.printf("Error: invalid option %q\n", line)
			continue
		}

		switch option {
		case optionExit:
			return nil
		case optionRegister:
			if name, ok := c.prompt("Enter username: "); ok {
				err = c.register(ctx, name)
			}
		case optionUsers:
			err = c.users(ctx)
		case optionKey:
			if peer, ok := c.prompt("Enter username or id: "); ok {
				err = c.requestKey(ctx, peer)
			}
		case optionPull:
			err = c.pull(ctx)
		case optionSend:
			peer, ok := c.prompt("Enter username or id: ")
			if !ok {
				break
			}
			if text, ok := c.prompt("Enter message: "); ok {
				err = c.send(ctx, peer, text)
			}
		default:
			c.printf("Error: unknown option %d\n", option)
			continue
		}

		if err != nil {
			c.printf("Error: %v\n", err)
		}
	}
}

func (c *console) prompt(label string) (string, bool) {
	c.printf("%s", label)
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}
