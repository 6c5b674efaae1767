package cloud

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestLogin(t *testing.T) {
	f := newFakeCloud(t)
	c := f.newClient()

	if got := c.State(); got != StateAnonymous {
		t.Fatalf("initial state = %v, want anonymous", got)
	}
	if c.Credentials().InstallationID == "" {
		t.Fatal("installation id should be generated on construction")
	}

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	creds := c.Credentials()
	if creds.SessionToken != "tok-1" {
		t.Errorf("SessionToken = %q, want tok-1", creds.SessionToken)
	}
	if creds.UserObjectID != "user1" {
		t.Errorf("UserObjectID = %q, want user1", creds.UserObjectID)
	}
	if got := c.State(); got != StateAuthenticated {
		t.Errorf("state = %v, want authenticated", got)
	}
}

func TestLogin_KeepsInstallationID(t *testing.T) {
	f := newFakeCloud(t)
	c := NewClient(f.config(), Credentials{
		Username:       testUsername,
		Password:       testPassword,
		InstallationID: "fixed-install",
	}, nil)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if got := c.Credentials().InstallationID; got != "fixed-install" {
		t.Errorf("InstallationID = %q, want fixed-install", got)
	}
}

func TestLogin_Rejected(t *testing.T) {
	f := newFakeCloud(t)
	c := NewClient(f.config(), Credentials{Username: testUsername, Password: "wrong"}, nil)

	err := c.Login(context.Background())
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("Login() error = %v, want *AuthenticationError", err)
	}
	if authErr.Message != "Invalid username/password." {
		t.Errorf("Message = %q", authErr.Message)
	}
	if got := c.State(); got != StateAnonymous {
		t.Errorf("state after failed login = %v, want anonymous", got)
	}
}

func TestFetchClass_Error(t *testing.T) {
	f := newFakeCloud(t)
	c := f.newClient()
	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := c.FetchClass(context.Background(), "Missing", nil)
	var reqErr *CloudRequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("FetchClass() error = %v, want *CloudRequestError", err)
	}
	if reqErr.StatusCode != 404 || reqErr.Message != "Object not found." {
		t.Errorf("unexpected error fields: %+v", reqErr)
	}
}

func TestFetchClass_EmptyResolves(t *testing.T) {
	f := newFakeCloud(t)
	c := f.newClient()
	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := c.fetchFirstObjectID(context.Background(), "Empty", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestFetchClass_RefreshesSession(t *testing.T) {
	f := newFakeCloud(t)
	c := f.newClient()
	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	f.rejectToken = "tok-1"
	f.mu.Unlock()

	homeID, err := c.CurrentHomeID(context.Background())
	if err != nil {
		t.Fatalf("CurrentHomeID() error = %v", err)
	}
	if homeID != "home1" {
		t.Errorf("CurrentHomeID() = %q, want home1", homeID)
	}
	if got := f.loginCount(); got != 2 {
		t.Errorf("logins = %d, want 2", got)
	}
	if got := c.Credentials().SessionToken; got != "tok-2" {
		t.Errorf("SessionToken = %q, want tok-2", got)
	}
}

func TestResolvers_FetchOnce(t *testing.T) {
	f := newFakeCloud(t)
	c := f.newClient()
	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := c.LiveGroupID(context.Background())
			if err != nil {
				errs <- err
				return
			}
			if id != "lg1" {
				errs <- errors.New("unexpected live group id " + id)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if got := f.fetchCount("LiveGroup"); got != 1 {
		t.Errorf("LiveGroup fetched %d times, want 1", got)
	}
	if got := f.fetchCount("Home"); got != 1 {
		t.Errorf("Home fetched %d times, want 1", got)
	}

	// Login already provided the user id.
	if _, err := c.UserObjectID(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.fetchCount("_User"); got != 0 {
		t.Errorf("_User fetched %d times, want 0", got)
	}
}

func TestUserObjectID_Fetched(t *testing.T) {
	f := newFakeCloud(t)
	c := NewClient(f.config(), Credentials{
		Username:     testUsername,
		Password:     testPassword,
		SessionToken: "tok-stored",
	}, nil)

	id, err := c.UserObjectID(context.Background())
	if err != nil {
		t.Fatalf("UserObjectID() error = %v", err)
	}
	if id != "user1" {
		t.Errorf("UserObjectID() = %q, want user1", id)
	}
	if got := f.fetchCount("_User"); got != 1 {
		t.Errorf("_User fetched %d times, want 1", got)
	}
}

func TestHome_AlwaysFresh(t *testing.T) {
	f := newFakeCloud(t)
	c := f.newClient()
	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		home, err := c.Home(context.Background())
		if err != nil {
			t.Fatalf("Home() error = %v", err)
		}
		if home.ObjectID != "home1" || len(home.DeviceList) != 1 {
			t.Fatalf("unexpected home: %+v", home)
		}
		if br, ok := home.OnlineList["1"].Brightness(); !ok || br != 50 {
			t.Errorf("device 1 brightness = %v (%v), want 50", br, ok)
		}
	}

	// One fetch to resolve the home id, then one per call.
	if got := f.fetchCount("Home"); got != 4 {
		t.Errorf("Home fetched %d times, want 4", got)
	}
}

func TestSendCommand_NotConnected(t *testing.T) {
	f := newFakeCloud(t)
	c := f.newClient()
	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := c.SendCommand(context.Background(), "00000003040100ed696901000000000000000000")
	var sendErr *CommandSendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("SendCommand() error = %v, want *CommandSendError", err)
	}
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("error should wrap ErrNotConnected: %v", err)
	}
	if len(f.sentCommands()) != 0 {
		t.Error("nothing should reach the server")
	}
}

func TestCredentials_Redacted(t *testing.T) {
	c := Credentials{Username: "u", Password: "p", SessionToken: "t", LiveGroupID: "lg"}
	r := c.Redacted()
	if r.Password == "p" || r.SessionToken == "t" {
		t.Errorf("Redacted() leaked secrets: %+v", r)
	}
	if r.Username != "u" || r.LiveGroupID != "lg" {
		t.Errorf("Redacted() dropped public fields: %+v", r)
	}
	if c.Password != "p" {
		t.Error("Redacted() must not modify the receiver")
	}
}
