package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/maartendamen/houseagent-latitude/internal/constants"
	"github.com/maartendamen/houseagent-latitude/internal/models"
	"github.com/maartendamen/houseagent-latitude/internal/utils"
)

const (
	wsSendBuffer   = 16
	wsWriteTimeout = 5 * time.Second
)

// ActionDispatcher runs management actions on behalf of the web forms.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, action constants.ActionKind, payload json.RawMessage) (any, error)
}

// ValueFeed publishes value updates to registered listeners.
type ValueFeed interface {
	AddListener(l ValueListener) func()
}

// AccountRow is one entry of /latitude_accounts_data.
type AccountRow struct {
	Name        string `json:"name"`
	DeviceName  string `json:"device_name"`
	ID          any    `json:"id"`
	Password    any    `json:"password"`
	RefreshTime any    `json:"refreshtime"`
	Proximity   any    `json:"proximity"`
	Latitude    any    `json:"latitude"`
	Longitude   any    `json:"longitude"`
	UpdateTime  any    `json:"updatetime"`
}

// LocationRow is one entry of /latitude_locations_data.
type LocationRow struct {
	Location  string  `json:"location"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WebService serves the account and location forms and a websocket feed of value updates.
type WebService struct {
	listen       string
	dispatcher   ActionDispatcher
	feed         ValueFeed
	username     string
	passwordHash []byte
	logger       zerolog.Logger

	// devices maps device id to the device name entered on the account form.
	devices  cmap.ConcurrentMap[string, string]
	upgrader websocket.Upgrader

	mu             sync.Mutex
	server         *http.Server
	addr           net.Addr
	removeListener func()
	clients        map[*wsClient]struct{}
	wg             sync.WaitGroup
}

// NewWebService creates the web surface. dispatcher and feed may be nil.
// Basic auth is enforced when username is set.
func NewWebService(listen string, dispatcher ActionDispatcher, feed ValueFeed,
	username, passwordHash string, logger zerolog.Logger) *WebService {

	return &WebService{
		listen:       listen,
		dispatcher:   dispatcher,
		feed:         feed,
		username:     username,
		passwordHash: []byte(passwordHash),
		logger:       logger.With().Str("service", "web").Logger(),
		devices:      cmap.New[string](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Handler returns the routes, wrapped in authentication and request logging.
func (ws *WebService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /latitude_account", ws.handleAccount)
	mux.HandleFunc("GET /latitude_accounts_data", ws.handleAccountsData)
	mux.HandleFunc("POST /latitude_location", ws.handleLocation)
	mux.HandleFunc("GET /latitude_locations_data", ws.handleLocationsData)
	mux.HandleFunc("GET /latitude_ws", ws.handleFeed)

	return ws.logRequests(ws.authenticate(mux))
}

// Start listens on the configured address and serves in the background.
func (ws *WebService) Start() error {
	ws.mu.Lock()
	if ws.server != nil {
		ws.mu.Unlock()
		return errors.New("web service is already running")
	}

	ln, err := net.Listen("tcp", ws.listen)
	if err != nil {
		ws.mu.Unlock()
		ws.logger.Error().Err(err).Str("listen", ws.listen).Msg("Failed to listen")
		return err
	}

	server := &http.Server{
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ws.server = server
	ws.addr = ln.Addr()
	ws.mu.Unlock()

	// Registered outside ws.mu; broadcast takes ws.mu while the feed holds its own lock.
	if ws.feed != nil {
		remove := ws.feed.AddListener(ws.broadcast)
		ws.mu.Lock()
		ws.removeListener = remove
		ws.mu.Unlock()
	}

	ws.wg.Add(1)
	go func() {
		defer ws.wg.Done()
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.logger.Error().Err(err).Msg("Web server stopped unexpectedly")
		}
	}()

	ws.logger.Info().Str("addr", ln.Addr().String()).Msg("WebService started successfully")
	return nil
}

// Stop closes the feed connections and shuts the server down.
func (ws *WebService) Stop() error {
	ws.mu.Lock()
	server := ws.server
	if server == nil {
		ws.mu.Unlock()
		return errors.New("web service is not running")
	}
	removeListener := ws.removeListener
	ws.removeListener = nil
	for c := range ws.clients {
		c.conn.Close()
	}
	ws.server = nil
	ws.mu.Unlock()

	if removeListener != nil {
		removeListener()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := server.Shutdown(ctx)
	ws.wg.Wait()

	ws.logger.Info().Msg("WebService stopped successfully")
	return err
}

// Addr returns the address the server listens on, or nil when stopped.
func (ws *WebService) Addr() net.Addr {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.server == nil {
		return nil
	}
	return ws.addr
}

// DeviceName returns the name registered for a device id.
func (ws *WebService) DeviceName(deviceID string) (string, bool) {
	return ws.devices.Get(deviceID)
}

func (ws *WebService) authenticate(next http.Handler) http.Handler {
	if ws.username == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(ws.username)) != 1 ||
			bcrypt.CompareHashAndPassword(ws.passwordHash, []byte(password)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="latitude"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (ws *WebService) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		ws.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Handled request")
	})
}

func (ws *WebService) handleAccount(w http.ResponseWriter, r *http.Request) {
	if ws.dispatcher == nil {
		ws.noPlugin(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.PostForm.Get("oper") {
	case "add":
		deviceID := r.PostForm.Get("device_id")
		if deviceID == "" {
			deviceID = uuid.NewString()
		}
		if name := r.PostForm.Get("device_name"); name != "" {
			ws.devices.Set(deviceID, name)
		}
		payload := map[string]any{
			"name": r.PostForm.Get("name"),
			"details": []string{
				deviceID,
				r.PostForm.Get("password"),
				r.PostForm.Get("refreshtime"),
				r.PostForm.Get("proximity"),
			},
		}
		ws.dispatchOK(w, r, constants.ActionAddAccount, payload)
	case "del":
		ws.dispatchOK(w, r, constants.ActionDelAccount, r.PostForm.Get("id"))
	default:
		http.Error(w, fmt.Sprintf("unknown operation %q", r.PostForm.Get("oper")), http.StatusBadRequest)
	}
}

func (ws *WebService) handleLocation(w http.ResponseWriter, r *http.Request) {
	if ws.dispatcher == nil {
		ws.noPlugin(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	coordinates := []string{r.PostForm.Get("latitude"), r.PostForm.Get("longitude")}
	switch r.PostForm.Get("oper") {
	case "add":
		ws.dispatchOK(w, r, constants.ActionAddLocation, map[string]any{
			"name":        r.PostForm.Get("location"),
			"coordinates": coordinates,
		})
	case "edit":
		ws.dispatchOK(w, r, constants.ActionEditLocation, map[string]any{
			"id":          r.PostForm.Get("id"),
			"name":        r.PostForm.Get("location"),
			"coordinates": coordinates,
		})
	case "del":
		ws.dispatchOK(w, r, constants.ActionDelLocation, r.PostForm.Get("id"))
	default:
		http.Error(w, fmt.Sprintf("unknown operation %q", r.PostForm.Get("oper")), http.StatusBadRequest)
	}
}

func (ws *WebService) handleAccountsData(w http.ResponseWriter, r *http.Request) {
	if ws.dispatcher == nil {
		ws.noPlugin(w)
		return
	}

	result, err := ws.dispatcher.Dispatch(r.Context(), constants.ActionGetAccounts, nil)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	accounts, ok := result.(map[string][]any)
	if !ok {
		ws.writeError(w, fmt.Errorf("unexpected get_accounts result %T", result))
		return
	}

	rows := make([]AccountRow, 0, len(accounts))
	for name, data := range accounts {
		if len(data) < 7 {
			continue
		}
		row := AccountRow{
			Name:        name,
			ID:          data[0],
			Password:    data[1],
			RefreshTime: data[2],
			Proximity:   data[3],
			Latitude:    data[4],
			Longitude:   data[5],
			UpdateTime:  data[6],
		}
		if deviceID, ok := data[0].(string); ok {
			row.DeviceName, _ = ws.devices.Get(deviceID)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	ws.writeJSON(w, rows)
}

func (ws *WebService) handleLocationsData(w http.ResponseWriter, r *http.Request) {
	if ws.dispatcher == nil {
		ws.noPlugin(w)
		return
	}

	result, err := ws.dispatcher.Dispatch(r.Context(), constants.ActionGetLocations, nil)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	locations, ok := result.(map[string][2]float64)
	if !ok {
		ws.writeError(w, fmt.Errorf("unexpected get_locations result %T", result))
		return
	}

	rows := make([]LocationRow, 0, len(locations))
	for name, c := range locations {
		rows = append(rows, LocationRow{Location: name, Latitude: c[0], Longitude: c[1]})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Location < rows[j].Location })

	ws.writeJSON(w, rows)
}

func (ws *WebService) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	ws.mu.Lock()
	ws.clients[client] = struct{}{}
	ws.mu.Unlock()

	done := make(chan struct{})
	go ws.writeFeed(client, done)

	// Reads only detect the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	ws.mu.Lock()
	delete(ws.clients, client)
	ws.mu.Unlock()
	close(done)
	conn.Close()
}

func (ws *WebService) writeFeed(client *wsClient, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				ws.logger.Debug().Err(err).Msg("Websocket write failed")
				client.conn.Close()
				return
			}
		}
	}
}

// broadcast queues update for every feed client, dropping it for clients that lag behind.
func (ws *WebService) broadcast(update models.ValueUpdate) {
	msg, err := json.Marshal(update)
	if err != nil {
		ws.logger.Error().Err(err).Msg("Failed to serialize value update")
		return
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	for c := range ws.clients {
		select {
		case c.send <- msg:
		default:
			ws.logger.Warn().Str("key", update.Key).Msg("Feed client too slow, dropping update")
		}
	}
}

// ClientCount returns the number of connected feed clients.
func (ws *WebService) ClientCount() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.clients)
}

func (ws *WebService) dispatchOK(w http.ResponseWriter, r *http.Request, action constants.ActionKind, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	if _, err := ws.dispatcher.Dispatch(r.Context(), action, raw); err != nil {
		ws.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(constants.ResultOK))
}

func (ws *WebService) noPlugin(w http.ResponseWriter) {
	http.Error(w, constants.NoPluginMessage, http.StatusServiceUnavailable)
}

func (ws *WebService) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ws.logger.Error().Err(err).Msg("Failed to write response")
	}
}

func (ws *WebService) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if isClientError(err) {
		status = http.StatusBadRequest
	}
	ws.logger.Warn().Err(err).Int("status", status).Msg("Request failed")
	http.Error(w, err.Error(), status)
}

var clientErrors = utils.SliceToSet([]error{
	ErrUnknownAction,
	ErrInvalidPayload,
	ErrLocationNotFound,
	ErrLocationExists,
	models.ErrInvalidAccount,
	models.ErrInvalidLocation,
})

func isClientError(err error) bool {
	for target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
