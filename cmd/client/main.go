// Command client is a terminal client for the workbridge backend: chat,
// live job watching with OTP check-in/out, and the notification feed.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/AnshRaj112/workbridge/internal/apiclient"
	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/realtime"
)

const usage = `usage: client [flags] <command> [args]

commands:
  chat <counterpartId>                          open a conversation and send stdin lines
  watch <jobId> <workerId>                      follow a work log and the worker's location
  otp <jobId> <workerId> <start|end>            issue a code (employer)
  verify <jobId> <workerId> <start|end> <code>  verify a code (worker)
  photo <jobId> <workerId> <start|end> <file> [lat lng]
                                                upload the attendance photo (worker)
  notifications                                 print the feed and follow it

environment: WORKBRIDGE_URL, WORKBRIDGE_TOKEN, or WORKBRIDGE_USER with WORKBRIDGE_ROLE
for a development session.
`

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	baseURL := flag.String("url", getEnv("WORKBRIDGE_URL", "http://localhost:8080"), "server base URL")
	token := flag.String("token", os.Getenv("WORKBRIDGE_TOKEN"), "session token")
	user := flag.String("user", os.Getenv("WORKBRIDGE_USER"), "user id for a development session")
	role := flag.String("role", os.Getenv("WORKBRIDGE_ROLE"), "worker or employer, for a development session")
	name := flag.String("name", os.Getenv("WORKBRIDGE_NAME"), "display name sent with location updates")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, *baseURL, *token, *user, *role)
	if err != nil {
		log.Fatal(err)
	}
	app.api.WorkerName = *name
	defer app.manager.Disconnect()

	if err := app.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Fatal(err)
	}
}

type app struct {
	api      *apiclient.Client
	manager  *realtime.Manager
	identity models.Identity
}

func newApp(ctx context.Context, baseURL, token, user, role string) (*app, error) {
	var identity models.Identity
	if user != "" {
		r, err := models.ParseRole(role)
		if err != nil {
			return nil, err
		}
		identity = models.Identity{ID: user, Role: r}
	}

	session := &sessionToken{token: token}
	api, err := apiclient.New(baseURL, session, nil)
	if err != nil {
		return nil, err
	}
	if token == "" {
		if identity.ID == "" {
			return nil, fmt.Errorf("set WORKBRIDGE_TOKEN, or WORKBRIDGE_USER and WORKBRIDGE_ROLE")
		}
		s, err := api.DevSession(ctx, identity.ID, identity.Role)
		if err != nil {
			return nil, fmt.Errorf("dev session: %w", err)
		}
		session.token = s.Token
		identity = s.Identity
	}
	if identity.ID == "" {
		return nil, fmt.Errorf("WORKBRIDGE_USER and WORKBRIDGE_ROLE are required alongside a token")
	}

	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(baseURL, "/"), "http") + "/ws"
	manager := realtime.NewManager(realtime.NewWebSocketDialer(wsURL), session)
	manager.OnStateChange(func(s realtime.State) {
		log.Printf("connection %s", s)
	})
	if err := manager.Connect(ctx, identity); err != nil {
		log.Printf("⚠️  %v (retrying in the background)", err)
	}
	return &app{api: api, manager: manager, identity: identity}, nil
}

// sessionToken is set once before the manager dials.
type sessionToken struct {
	token string
}

func (s *sessionToken) Token() string { return s.token }

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "chat":
		if len(args) != 1 {
			return fmt.Errorf("chat needs a counterpart id")
		}
		return a.chat(ctx, args[0])
	case "watch":
		if len(args) != 2 {
			return fmt.Errorf("watch needs a job id and a worker id")
		}
		return a.watch(ctx, args[0], args[1])
	case "otp":
		if len(args) != 3 {
			return fmt.Errorf("otp needs a job id, a worker id and a side")
		}
		side, err := models.ParseOTPSide(args[2])
		if err != nil {
			return err
		}
		issue, err := a.api.GenerateOTP(ctx, args[0], args[1], side)
		if err != nil {
			return err
		}
		fmt.Printf("%s code %s (expires %s)\n", side, issue.Code, issue.ExpiresAt.Local().Format(time.Kitchen))
		return nil
	case "verify":
		if len(args) != 4 {
			return fmt.Errorf("verify needs a job id, a worker id, a side and a code")
		}
		side, err := models.ParseOTPSide(args[2])
		if err != nil {
			return err
		}
		wl, err := a.api.VerifyOTP(ctx, args[0], args[1], side, args[3])
		if err != nil {
			return err
		}
		fmt.Printf("work log %s\n", wl.Status)
		return nil
	case "photo":
		return a.photo(ctx, args)
	case "notifications":
		return a.notifications(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) chat(ctx context.Context, counterpartID string) error {
	conv, err := a.api.StartConversation(ctx, counterpartID)
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		view    *realtime.Conversation
		printed int
	)
	render := func() {
		mu.Lock()
		defer mu.Unlock()
		if view == nil {
			return
		}
		msgs := view.Messages()
		for ; printed < len(msgs); printed++ {
			m := msgs[printed]
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), m.SenderID, m.Text)
		}
		if view.PeerTyping() {
			fmt.Println("... typing")
		}
	}

	opened, err := realtime.OpenConversation(ctx, a.manager, a.api, conv.ID, realtime.WithOnChange(render))
	if err != nil {
		return err
	}
	mu.Lock()
	view = opened
	mu.Unlock()
	render()
	defer opened.Close()

	presence := realtime.NewPresence(a.manager, realtime.WithPresenceChange(func(id string, online bool) {
		if id == counterpartID {
			fmt.Printf("%s is %s\n", id, map[bool]string{true: "online", false: "offline"}[online])
		}
	}))
	defer presence.Close()
	if _, err := presence.QueryOnlineStatus(ctx, []string{counterpartID}); err != nil {
		log.Printf("online status: %v", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			opened.TextChanged(line)
			if err := opened.Send(ctx, line); err != nil {
				log.Printf("send: %v", err)
			}
		}
	}
}

func (a *app) watch(ctx context.Context, jobID, workerID string) error {
	w, err := realtime.WatchJob(ctx, a.manager, a.api, jobID, workerID,
		realtime.WithWorkLogUpdate(func(wl *models.WorkLog) {
			fmt.Printf("work log %s %s: %s", wl.WorkDate, wl.WorkerID, wl.Status)
			if wl.HoursWorked > 0 {
				fmt.Printf(" (%.2f h)", wl.HoursWorked)
			}
			fmt.Println()
		}),
		realtime.WithLocationUpdate(func(loc realtime.WorkerLocation) {
			fmt.Printf("worker %s at %.5f,%.5f\n", loc.WorkerID, loc.Point.Latitude, loc.Point.Longitude)
		}),
	)
	if err != nil {
		return err
	}
	defer w.Close()

	<-ctx.Done()
	return nil
}

func (a *app) photo(ctx context.Context, args []string) error {
	if len(args) != 4 && len(args) != 6 {
		return fmt.Errorf("photo needs a job id, a worker id, a side, a file and optionally lat lng")
	}
	side, err := models.ParseOTPSide(args[2])
	if err != nil {
		return err
	}
	f, err := os.Open(args[3])
	if err != nil {
		return err
	}
	defer f.Close()

	upload := realtime.PhotoUpload{Filename: f.Name(), Content: f}
	if len(args) == 6 {
		lat, err1 := strconv.ParseFloat(args[4], 64)
		lng, err2 := strconv.ParseFloat(args[5], 64)
		if err1 != nil || err2 != nil {
			return fmt.Errorf("lat and lng must be numbers")
		}
		upload.Location = &models.GeoPoint{Latitude: lat, Longitude: lng}
	}

	wl, err := a.api.UploadPhoto(ctx, args[0], args[1], side, upload)
	if err != nil {
		return err
	}
	fmt.Printf("work log %s\n", wl.Status)
	return nil
}

func (a *app) notifications(ctx context.Context) error {
	feed := realtime.NewNotifications(a.manager, func(unread int) {
		fmt.Printf("%d unread\n", unread)
	})
	defer feed.Close()

	items, err := a.api.Notifications(ctx, 0)
	if err != nil {
		return err
	}
	for _, n := range items {
		mark := " "
		if !n.Read {
			mark = "*"
		}
		fmt.Printf("%s %s  %s\n", mark, n.CreatedAt.Local().Format(time.DateTime), n.Title)
	}
	feed.Seed(items)

	<-ctx.Done()
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
