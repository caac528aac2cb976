// Obtains the Drive refresh token the gdrive storage provider needs. Run it
// once with the OAuth client credentials, authorize in the browser, then set
// GDRIVE_REFRESH_TOKEN from the output.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
)

const authTimeout = 3 * time.Minute

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "gdrive-auth:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	clientID := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_ID"))
	clientSecret := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_SECRET"))
	if clientID == "" || clientSecret == "" {
		return errors.New("GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET must be set")
	}

	// Callback listener on a free local port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	defer ln.Close()

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope}, // only files this app creates
		RedirectURL:  fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port),
	}

	state, err := randomState()
	if err != nil {
		return err
	}

	// Offline access plus a forced consent screen. Without prompt=consent
	// Google omits the refresh token on re-authorization.
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))

	fmt.Printf("\nOpen this URL in your browser:\n\n%s\n", authURL)
	fmt.Printf("\nWaiting for authorization on %s\n", conf.RedirectURL)

	code, err := waitForCallback(ln, state)
	if err != nil {
		return err
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("code exchange: %w", err)
	}

	if strings.TrimSpace(tok.RefreshToken) == "" {
		fmt.Println("\nNo refresh_token returned.")
		fmt.Println("Revoke the app's previous access at https://myaccount.google.com/permissions and run this again.")
		return nil
	}

	fmt.Printf("\nREFRESH TOKEN:\n\n%s\n", tok.RefreshToken)
	return nil
}

// waitForCallback serves /callback on ln until Google redirects back with a
// code, the user refuses, or the wait times out.
func waitForCallback(ln net.Listener, state string) (string, error) {
	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)
	deliver := func(res result) {
		select {
		case results <- res:
		default: // a second redirect landed, first one wins
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			deliver(result{err: errors.New("callback state mismatch")})
		case q.Get("error") != "":
			http.Error(w, "authorization refused: "+q.Get("error"), http.StatusBadRequest)
			deliver(result{err: fmt.Errorf("authorization refused: %s", q.Get("error"))})
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			deliver(result{err: errors.New("callback without code")})
		default:
			fmt.Fprintln(w, "OK. You can close this window and return to the terminal.")
			deliver(result{code: q.Get("code")})
		}
	})

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	select {
	case res := <-results:
		return res.code, res.err
	case <-time.After(authTimeout):
		return "", errors.New("timed out waiting for authorization")
	}
}

func randomState() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
