// Command merchantsim plays the merchant side: it initiates a payment (or a card-token
// registration), prints the page URL for the cardholder and waits for the signed
// notification. With -card-token it charges a registered token directly.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/CedrosPay/acquisim/pkg/acquiring"
)

func main() {
	_ = godotenv.Load()

	var (
		serverURL  = flag.String("server", "http://localhost:8080", "acquirer base URL")
		secret     = flag.String("secret", os.Getenv("ACQUISIM_TERMINAL_PASSWORD"), "terminal password shared with the acquirer")
		amount     = flag.Int64("amount", 100, "amount in minor units")
		listen     = flag.String("listen", "127.0.0.1:9090", "address for the notification receiver")
		successURL = flag.String("success-url", "https://merchant.example/success", "where the cardholder lands on success")
		failURL    = flag.String("fail-url", "https://merchant.example/fail", "where the cardholder lands on failure")
		wait       = flag.Duration("wait", 10*time.Minute, "how long to wait for the notification; 0 exits after initiating")
		register   = flag.Bool("register", false, "open a card-token registration session instead of a payment")
		cardToken  = flag.String("card-token", "", "charge this card token with -amount and exit")
	)
	flag.Parse()

	if *secret == "" {
		log.Fatal("secret flag (or ACQUISIM_TERMINAL_PASSWORD) is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := acquiring.NewClient(*serverURL, *secret)

	if *cardToken != "" {
		charge(ctx, client, *cardToken, *amount)
		return
	}

	received := make(chan string, 1)
	notifyURL := "http://" + *listen + "/notify"
	if *wait > 0 {
		ln, err := net.Listen("tcp", *listen)
		if err != nil {
			log.Fatalf("listen: %v", err)
		}
		notifyURL = "http://" + ln.Addr().String() + "/notify"
		srv := &http.Server{Handler: notificationHandler(client, received), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("notification receiver: %v", err)
			}
		}()
		defer srv.Close()
	}

	if *register {
		resp, err := client.RegisterCardToken(ctx, notifyURL, *successURL, *failURL)
		if err != nil {
			log.Fatalf("register card token: %v", err)
		}
		fmt.Println("session:         ", resp.SessionID)
		fmt.Println("registration url:", resp.RegistrationURL)
	} else {
		resp, err := client.InitPayment(ctx, notifyURL, *successURL, *failURL, *amount)
		if err != nil {
			log.Fatalf("init payment: %v", err)
		}
		fmt.Println("session:    ", resp.SessionID)
		fmt.Println("payment url:", resp.PaymentURL)
	}

	if *wait == 0 {
		return
	}

	select {
	case line := <-received:
		fmt.Println("notification:", line)
	case <-time.After(*wait):
		log.Fatal("no notification received")
	case <-ctx.Done():
	}
}

func charge(ctx context.Context, client *acquiring.Client, token string, amount int64) {
	info, err := client.CardTokenInfo(ctx, token)
	if err != nil {
		log.Fatalf("card token info: %v", err)
	}
	if !info.Active {
		log.Fatalf("card token %s is not active", token)
	}
	resp, err := client.MakePayment(ctx, token, amount)
	if err != nil {
		log.Fatalf("make payment: %v", err)
	}
	fmt.Printf("charge: status=%s reason=%q amount=%d\n", resp.OperationStatus, resp.Reason, amount)
}

// notificationHandler accepts payment and card-token notifications whose token verifies
// under the terminal secret. Card-token notifications carry a card_token field.
func notificationHandler(client *acquiring.Client, received chan<- string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		line, err := verify(client, body)
		if err != nil {
			log.Printf("rejected notification: %v", err)
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		select {
		case received <- line:
		default:
		}
		w.WriteHeader(http.StatusOK)
	})
}

func verify(client *acquiring.Client, body []byte) (string, error) {
	var shape struct {
		Amount *int64 `json:"amount"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return "", err
	}
	if shape.Amount == nil {
		var n acquiring.CardTokenNotification
		if err := json.Unmarshal(body, &n); err != nil {
			return "", err
		}
		if err := client.VerifyCardTokenNotification(n); err != nil {
			return "", fmt.Errorf("session %s: %w", n.SessionID, err)
		}
		return fmt.Sprintf("status=%s reason=%q card_token=%s", n.Status, n.Reason, n.CardToken), nil
	}
	var n acquiring.PaymentNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return "", err
	}
	if err := client.VerifyNotification(n); err != nil {
		return "", fmt.Errorf("session %s: %w", n.SessionID, err)
	}
	return fmt.Sprintf("status=%s reason=%q amount=%d", n.Status, n.Reason, n.Amount), nil
}
