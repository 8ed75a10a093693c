// Command peercalld runs a call signaling endpoint.
//
// It listens for calls on the configured port, serves an event feed over a
// websocket for a front end and can place a call or ping a contact from the
// command line. Configuration comes from PEERCALL_* environment variables,
// optionally loaded from ENV_FILE.
//
// SIGUSR1 reports the telephony as off hook and SIGUSR2 as idle.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/opd-ai/peercall"
	"github.com/opd-ai/peercall/call"
	"github.com/opd-ai/peercall/config"
	"github.com/opd-ai/peercall/contact"
	"github.com/opd-ai/peercall/crypto"
	"github.com/opd-ai/peercall/eventfeed"
	"github.com/opd-ai/peercall/interrupt"
	"github.com/opd-ai/peercall/message"
	"github.com/sirupsen/logrus"
)

func main() {
	callName := flag.String("call", "", "call the named contact after start")
	pingName := flag.String("ping", "", "ping the named contact and exit")
	offerFile := flag.String("offer", "", "file holding the SDP offer for -call")
	answerFile := flag.String("answer", "", "file holding the SDP answer used for auto accept")
	flag.Parse()

	if err := run(*callName, *pingName, *offerFile, *answerFile); err != nil {
		logrus.WithError(err).Error("peercalld failed")
		os.Exit(1)
	}
}

func run(callName, pingName, offerFile, answerFile string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.ConfigureLogging()

	keys, generated, err := cfg.KeyPair()
	if err != nil {
		return fmt.Errorf("key pair: %w", err)
	}
	if generated {
		logrus.Warn("No PEERCALL_SECRET_KEY set, using an ephemeral identity")
	}
	defer func() {
		if err := crypto.WipeKeyPair(keys); err != nil {
			logrus.WithError(err).Warn("Key pair not wiped")
		}
	}()

	book, err := loadBook(cfg.ContactsFile)
	if err != nil {
		return err
	}

	answer, err := readOptional(answerFile)
	if err != nil {
		return err
	}

	source := interrupt.NewManualSource()
	opts := cfg.Options()
	opts.Interrupts = source
	opts.NewMedia = func(c *contact.Contact) call.Media {
		return &logMedia{contact: c.String(), answer: answer}
	}

	svc, err := peercall.New(keys, book, opts)
	if err != nil {
		return err
	}
	defer svc.Close()

	hub := eventfeed.NewHub(&controller{Service: svc, source: source})
	defer hub.Close()
	svc.OnStateChange(hub.PublishState)
	svc.OnIncomingCall(hub.PublishIncomingCall)
	svc.OnRemoteAddressChange(hub.PublishRemoteAddress)

	if pingName != "" {
		return ping(svc, book, pingName)
	}

	if err := svc.Listen(cfg.ListenAddr); err != nil {
		return err
	}

	feed := &http.Server{Addr: cfg.FeedAddr, Handler: hub, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := feed.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "run",
				"address":  cfg.FeedAddr,
				"error":    err.Error(),
			}).Error("Event feed stopped")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"public_key": fmt.Sprintf("%x", keys.Public),
		"listen":     cfg.ListenAddr,
		"feed":       cfg.FeedAddr,
		"contacts":   book.Len(),
	}).Info("peercalld started")

	announce(svc, book, message.StatusOnline, cfg.SocketTimeout)

	if callName != "" {
		if err := placeCall(svc, book, callName, offerFile); err != nil {
			return err
		}
	}

	waitForSignals(source)

	announce(svc, book, message.StatusOffline, cfg.SocketTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return feed.Shutdown(ctx)
}

func loadBook(path string) (*contact.MemoryBook, error) {
	book, err := contact.LoadYAML(path)
	if errors.Is(err, os.ErrNotExist) {
		logrus.WithFields(logrus.Fields{
			"function": "loadBook",
			"path":     path,
		}).Warn("Contacts file not found, starting with an empty book")
		return contact.NewMemoryBook(), nil
	}
	return book, err
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func ping(svc *peercall.Service, book *contact.MemoryBook, name string) error {
	c, ok := book.FindByName(name)
	if !ok {
		return fmt.Errorf("unknown contact %q", name)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Ping(ctx, c); err != nil {
		return err
	}
	fmt.Printf("%s is %s\n", c, c.Status())
	return nil
}

func placeCall(svc *peercall.Service, book *contact.MemoryBook, name, offerFile string) error {
	c, ok := book.FindByName(name)
	if !ok {
		return fmt.Errorf("unknown contact %q", name)
	}
	offer, err := readOptional(offerFile)
	if err != nil {
		return err
	}
	_, err = svc.Call(c, offer)
	return err
}

// announce tells every contact about our status, best effort.
func announce(svc *peercall.Service, book *contact.MemoryBook, status string, timeout time.Duration) {
	var wg sync.WaitGroup
	for _, c := range book.All() {
		if c.Blocked() {
			continue
		}
		wg.Add(1)
		go func(c *contact.Contact) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := svc.SendStatusChange(ctx, c, status); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "announce",
					"contact":  c.String(),
					"status":   status,
					"error":    err.Error(),
				}).Debug("Status not delivered")
			}
		}(c)
	}
	wg.Wait()
}

func waitForSignals(source *interrupt.ManualSource) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for sig := range sigs {
		switch sig {
		case syscall.SIGUSR1:
			source.Trigger(interrupt.OffHook)
		case syscall.SIGUSR2:
			source.Trigger(interrupt.Idle)
		default:
			logrus.WithField("signal", sig.String()).Info("Shutting down")
			return
		}
	}
}

// controller adapts the service to the event feed.
type controller struct {
	*peercall.Service
	source *interrupt.ManualSource
}

func (c *controller) Telephony(state interrupt.TelephonyState) {
	c.source.Trigger(state)
}

// logMedia stands in for a media engine and logs what it would do.
type logMedia struct {
	contact string
	answer  string
}

var errNoAnswer = errors.New("no SDP answer configured")

func (m *logMedia) SetRemoteAnswer(answer string) error {
	logrus.WithFields(logrus.Fields{
		"contact": m.contact,
		"bytes":   len(answer),
	}).Info("Remote answer received")
	return nil
}

func (m *logMedia) CreateAnswer(string) (string, error) {
	if m.answer == "" {
		return "", errNoAnswer
	}
	return m.answer, nil
}

func (m *logMedia) Pause() {
	logrus.WithField("contact", m.contact).Info("Media paused")
}

func (m *logMedia) Resume() {
	logrus.WithField("contact", m.contact).Info("Media resumed")
}

func (m *logMedia) Cleanup() {
	logrus.WithField("contact", m.contact).Debug("Media released")
}
