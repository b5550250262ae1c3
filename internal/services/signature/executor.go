package signature

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
	"github.com/keithah/gvoice-rest-api/internal/services/upstream"
)

// ChromeExecutor runs signing programs inside a headless Chrome page.
// The interpreter script reads document and cookie state, so the page is
// navigated to the real origin with the session's cookies installed before
// any program is loaded.
type ChromeExecutor struct {
	config *common.SignatureConfig
	logger arbor.ILogger

	mu            sync.Mutex
	allocatorCtx  context.Context
	allocatorStop context.CancelFunc
	browserCtx    context.Context
	browserStop   context.CancelFunc
	initialized   bool
	loadedGlobal  string
}

// NewChromeExecutor creates an executor. The browser is not started until
// Initialize is called.
func NewChromeExecutor(config *common.SignatureConfig, logger arbor.ILogger) *ChromeExecutor {
	return &ChromeExecutor{
		config: config,
		logger: logger,
	}
}

// Initialize starts the browser, installs the session cookies and navigates
// to the signing origin.
func (e *ChromeExecutor) Initialize(ctx context.Context, cred *models.SessionCredential) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", e.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(upstream.UserAgent),
	)

	e.allocatorCtx, e.allocatorStop = chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	e.browserCtx, e.browserStop = chromedp.NewContext(e.allocatorCtx)

	runCtx, cancel := context.WithTimeout(e.browserCtx, e.config.RequestTimeout)
	defer cancel()

	err := chromedp.Run(runCtx,
		setCookiesAction(cred.Cookies),
		chromedp.Navigate(upstream.Origin+"/u/"+cred.AuthUser+"/"),
		chromedp.Sleep(e.config.ScriptWaitTime),
	)
	if err != nil {
		e.teardownLocked()
		return fmt.Errorf("browser startup failed: %w", err)
	}

	e.initialized = true

	e.logger.Info().
		Str("user_id", cred.UserID).
		Int("cookie_count", len(cred.Cookies)).
		Dur("startup_time", time.Since(startTime)).
		Msg("Signing browser initialized")

	return nil
}

// setCookiesAction installs the session cookies on the parent domain so both
// the page and the scripts it loads can read them.
func setCookiesAction(cookies map[string]string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for name, value := range cookies {
			err := network.SetCookie(name, value).
				WithDomain(".google.com").
				WithPath("/").
				WithSecure(true).
				WithHTTPOnly(false).
				WithSameSite(network.CookieSameSiteNone).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to set cookie %s: %w", name, err)
			}
		}
		return nil
	})
}

// LoadProgram injects the interpreter script into the page and verifies the
// expected global entry point appeared.
func (e *ChromeExecutor) LoadProgram(ctx context.Context, bundle *interfaces.SignatureBundle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return fmt.Errorf("executor not initialized")
	}

	runCtx, cancel := context.WithTimeout(e.browserCtx, e.config.RequestTimeout)
	defer cancel()

	loadExpr := fmt.Sprintf(`new Promise((resolve, reject) => {
		const script = document.createElement('script');
		script.src = %s;
		script.onload = () => resolve(true);
		script.onerror = () => reject(new Error('interpreter load failed'));
		document.head.appendChild(script);
	})`, jsString(bundle.InterpreterURL))

	var loaded bool
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(loadExpr, &loaded, awaitPromise),
		chromedp.Sleep(e.config.ScriptWaitTime),
	)
	if err != nil {
		return fmt.Errorf("interpreter script load failed: %w", err)
	}

	var available bool
	checkExpr := fmt.Sprintf(`typeof window[%s] !== 'undefined'`, jsString(bundle.GlobalName))
	if err := chromedp.Run(runCtx, chromedp.Evaluate(checkExpr, &available)); err != nil {
		return fmt.Errorf("interpreter verification failed: %w", err)
	}
	if !available {
		return fmt.Errorf("interpreter global %q not installed", bundle.GlobalName)
	}

	e.loadedGlobal = bundle.GlobalName

	e.logger.Debug().
		Str("global_name", bundle.GlobalName).
		Msg("Interpreter script loaded")

	return nil
}

// Execute runs the loaded program against the payload and returns the
// signature string.
func (e *ChromeExecutor) Execute(ctx context.Context, bundle *interfaces.SignatureBundle, payload interfaces.SignPayload) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return "", fmt.Errorf("executor not initialized")
	}
	if e.loadedGlobal != bundle.GlobalName {
		return "", fmt.Errorf("program for %q not loaded", bundle.GlobalName)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	// The interpreter entry point takes the program blob and a callback that
	// receives the signing functions. The first function signs an array of
	// payload objects and yields the result through its own callback.
	expr := fmt.Sprintf(`new Promise((resolve, reject) => {
		try {
			const payload = %s;
			window[%s].a(%s, (fn1, fn2, fn3, fn4) => {
				fn1(result => resolve(String(result)), [payload]);
			}, true, undefined, () => {});
		} catch (err) {
			reject(err);
		}
	})`, payloadJSON, jsString(bundle.GlobalName), jsString(bundle.Program))

	runCtx, cancel := context.WithTimeout(e.browserCtx, e.config.RequestTimeout)
	defer cancel()

	var sig string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expr, &sig, awaitPromise)); err != nil {
		return "", fmt.Errorf("program execution failed: %w", err)
	}
	if sig == "" {
		return "", fmt.Errorf("program returned empty signature")
	}

	return sig, nil
}

// Close shuts down the browser.
func (e *ChromeExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil
	}
	e.teardownLocked()
	e.logger.Info().Msg("Signing browser shut down")
	return nil
}

func (e *ChromeExecutor) teardownLocked() {
	if e.browserStop != nil {
		e.browserStop()
		e.browserStop = nil
	}
	if e.allocatorStop != nil {
		e.allocatorStop()
		e.allocatorStop = nil
	}
	e.browserCtx = nil
	e.allocatorCtx = nil
	e.initialized = false
	e.loadedGlobal = ""
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// jsString renders a Go string as a JS string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
