package fastagi

import (
	"fmt"
	"log"
	"net"
	"sync"

	"apicall/internal/agi"
	"apicall/internal/config"
	"apicall/internal/database"
)

// Server representa el servidor FastAGI
type Server struct {
	config *config.Config
	repo   *database.Repository
	mu     sync.Mutex
	active map[string]*Session // Sesiones activas por uniqueid
}

// NewServer crea un nuevo servidor FastAGI
func NewServer(cfg *config.Config, repo *database.Repository) *Server {
	return &Server{
		config: cfg,
		repo:   repo,
		active: make(map[string]*Session),
	}
}

// Start inicia el servidor FastAGI
func (s *Server) Start() error {
	addr := s.config.FastAGI.Address()
	log.Printf("[FastAGI] Iniciando servidor en %s", addr)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error iniciando listener: %w", err)
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				log.Printf("[FastAGI] Error aceptando conexión: %v", err)
				continue
			}

			go s.handleConnection(conn)
		}
	}()

	log.Printf("[FastAGI] Servidor iniciado correctamente")
	return nil
}

// handleConnection maneja una conexión AGI entrante
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	// Protección contra Pánicos (Panic Recovery)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[FastAGI] PANIC RECOVERED: %v", r)
		}
	}()

	channel := agi.NewDirectChannel(conn)
	proto := agi.NewProtocol(channel)

	// Leer el bloque inicial agi_KEY: value hasta que el protocolo
	// termine de parsearlo y quede listo para comandos.
	buf := make([]byte, 4096)
	for !proto.Idle() {
		n, err := conn.Read(buf)
		if err != nil {
			log.Printf("[FastAGI] Error leyendo variables iniciales: %v", err)
			return
		}
		if err := proto.DataReceived(buf[:n]); err != nil {
			log.Printf("[FastAGI] Error parseando variables: %v", err)
			return
		}
	}

	session := NewSession(conn, proto, s.config, s.repo)

	uniqueid := proto.Env["uniqueid"]
	s.mu.Lock()
	s.active[uniqueid] = session
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.active, uniqueid)
		s.mu.Unlock()
	}()

	log.Printf("[FastAGI] Nueva sesión: %s desde %s", uniqueid, proto.Env["callerid"])

	if err := session.HandleIVR(); err != nil {
		log.Printf("[FastAGI] Error en IVR: %v", err)
	}
}

// GetActiveSessionCount devuelve el número de sesiones activas
func (s *Server) GetActiveSessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
