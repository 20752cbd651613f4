package fastagi

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"apicall/internal/agi"
	"apicall/internal/config"
	"apicall/internal/database"
)

// Session representa una sesión AGI individual, respaldada por un
// agi.Protocol que maneja el framing y el parseo de resultados.
type Session struct {
	conn  net.Conn
	proto *agi.Protocol

	config     *config.Config
	repo       *database.Repository
	logID      int64 // ID del registro en apicall_call_log
	contactID  int64 // ID del contacto de campaña (0 si no aplica)
	campaignID int   // ID de la campaña (0 si no aplica)
}

// NewSession crea una nueva sesión AGI ya posicionada después del
// bloque de variables iniciales (proto.Idle() debe ser true).
func NewSession(conn net.Conn, proto *agi.Protocol, cfg *config.Config, repo *database.Repository) *Session {
	return &Session{
		conn:   conn,
		proto:  proto,
		config: cfg,
		repo:   repo,
	}
}

// exec sends one AGI command and blocks this goroutine, pumping bytes
// off the connection, until the command's token fires. Each Session
// owns its connection exclusively, so there is never a second reader
// to race with.
func (s *Session) exec(args ...string) (agi.Response, error) {
	tok, err := s.proto.SendCommand(args)
	if err != nil {
		return agi.Response{}, err
	}

	var resp agi.Response
	var cmdErr error
	done := false
	tok.OnResult(func(r agi.Response) { resp, done = r, true })
	tok.OnException(func(err error) { cmdErr, done = err, true })

	buf := make([]byte, 4096)
	for !done {
		n, err := s.conn.Read(buf)
		if err != nil {
			return agi.Response{}, fmt.Errorf("fastagi: reading response: %w", err)
		}
		if err := s.proto.DataReceived(buf[:n]); err != nil {
			return agi.Response{}, err
		}
	}
	return resp, cmdErr
}

// GetVariable obtiene el valor de una variable de canal
func (s *Session) GetVariable(name string) (string, error) {
	resp, err := s.exec("GET", "VARIABLE", name)
	if err != nil {
		return "", err
	}
	if resp.Result == 0 {
		return "", nil
	}
	return resp.Data, nil
}

// Answer responde la llamada
func (s *Session) Answer() error {
	_, err := s.exec("ANSWER")
	return err
}

// StreamFile reproduce un archivo de audio
func (s *Session) StreamFile(file string) error {
	file = trimAudioExt(file)
	_, err := s.exec("STREAM", "FILE", file, "")
	return err
}

func trimAudioExt(file string) string {
	for _, ext := range []string{".wav", ".gsm"} {
		if len(file) > len(ext) && file[len(file)-len(ext):] == ext {
			return file[:len(file)-len(ext)]
		}
	}
	return file
}

// WaitForDTMF espera un dígito DTMF con timeout, en segundos
func (s *Session) WaitForDTMF(timeoutSeconds int) (string, error) {
	resp, err := s.exec("WAIT", "FOR", "DIGIT", strconv.Itoa(timeoutSeconds*1000))
	if err != nil {
		return "", err
	}
	if resp.Result == 0 {
		return "", fmt.Errorf("timeout esperando DTMF")
	}
	// 0-9: 48-57, *: 42, #: 35
	if (resp.Result >= 48 && resp.Result <= 57) || resp.Result == 42 || resp.Result == 35 {
		return string(rune(resp.Result)), nil
	}
	return "", fmt.Errorf("DTMF inválido (ASCII %d)", resp.Result)
}

// SetVariable establece una variable de canal
func (s *Session) SetVariable(name, value string) error {
	_, err := s.exec("SET", "VARIABLE", name, value)
	return err
}

// Exec ejecuta una aplicación de Asterisk
func (s *Session) Exec(app string, args string) error {
	_, err := s.exec("EXEC", app, args)
	return err
}

// Hangup cuelga la llamada
func (s *Session) Hangup() error {
	_, err := s.exec("HANGUP")
	return err
}

// Verbose envía un mensaje al CLI de Asterisk
func (s *Session) Verbose(msg string, level int) error {
	_, err := s.exec("VERBOSE", msg, strconv.Itoa(level))
	return err
}

// HandleIVR ejecuta la lógica principal del IVR
func (s *Session) HandleIVR() error {
	startTime := time.Now()

	s.Verbose("=== Apicall: Nueva Sesion ===", 3)

	// Obtener ID del proyecto desde argumentos AGI o Variables de Canal
	var proyectoIDStr string
	if len(s.proto.Argv) > 0 {
		proyectoIDStr = s.proto.Argv[0]
	}
	if proyectoIDStr == "" {
		var err error
		proyectoIDStr, err = s.GetVariable("APICALL_PROJECT_ID")
		if err != nil || proyectoIDStr == "" {
			s.Verbose("Apicall Error: No se recibio proyecto_id (arg1) ni APICALL_PROJECT_ID", 3)
			return fmt.Errorf("no se proporcionó proyecto_id")
		}
		s.Verbose("Apicall: Proyecto ID recuperado de variable APICALL_PROJECT_ID", 3)
	}

	s.Verbose(fmt.Sprintf("Apicall: Proyecto ID recibido: %s", proyectoIDStr), 3)

	proyectoID, err := strconv.Atoi(proyectoIDStr)
	if err != nil {
		s.Verbose(fmt.Sprintf("Apicall Error: ID invalido: %v", err), 3)
		return fmt.Errorf("proyecto_id inválido: %w", err)
	}

	proyecto, err := s.repo.GetProyecto(proyectoID)
	if err != nil {
		s.Verbose(fmt.Sprintf("Apicall Error: Proyecto no encontrado en DB: %v", err), 3)
		return fmt.Errorf("error obteniendo proyecto: %w", err)
	}

	log.Printf("[Session] Proyecto: %s (#%d)", proyecto.Nombre, proyecto.ID)
	s.Verbose(fmt.Sprintf("Apicall: Cargado Proyecto '%s' (Audio: %s)", proyecto.Nombre, proyecto.Audio), 3)

	// Intentar obtener ID de log pre-creado (dialer o spooler)
	logIDStr, _ := s.GetVariable("APICALL_LOG_ID")
	if logIDStr != "" {
		s.logID, _ = strconv.ParseInt(logIDStr, 10, 64)
		s.Verbose(fmt.Sprintf("Apicall: Usando Log pre-creado ID %d", s.logID), 3)

		contactIDStr, _ := s.GetVariable("APICALL_CONTACT_ID")
		if contactIDStr != "" {
			s.contactID, _ = strconv.ParseInt(contactIDStr, 10, 64)
		}
		campaignIDStr, _ := s.GetVariable("APICALL_CAMPAIGN_ID")
		if campaignIDStr != "" {
			campID, _ := strconv.Atoi(campaignIDStr)
			s.campaignID = campID
		}
		if s.contactID > 0 {
			s.Verbose(fmt.Sprintf("Apicall: Correlacion campaign=%d contact=%d", s.campaignID, s.contactID), 3)
		}

		uniqueid := s.proto.Env["uniqueid"]
		s.updateLog("CONNECTED", "A", false, "", 0, &uniqueid)
	} else {
		uniqueid := s.proto.Env["uniqueid"]

		telefonoDestino, err := s.GetVariable("APICALL_TELEFONO")
		if err != nil || telefonoDestino == "" {
			telefonoDestino = s.proto.Env["callerid"]
			s.Verbose("Apicall Warning: No se encontró APICALL_TELEFONO, usando CallerID", 3)
		}

		var campaignID *int
		campaignIDStr, _ := s.GetVariable("APICALL_CAMPAIGN_ID")
		if campaignIDStr != "" && campaignIDStr != "0" {
			cid, _ := strconv.Atoi(campaignIDStr)
			if cid > 0 {
				campaignID = &cid
				s.campaignID = cid
			}
		}

		contactIDStr, _ := s.GetVariable("APICALL_CONTACT_ID")
		if contactIDStr != "" {
			s.contactID, _ = strconv.ParseInt(contactIDStr, 10, 64)
		}

		callerIDUsed := s.proto.Env["callerid"]
		if callerIDUsed == "" {
			callerIDUsed = proyecto.CallerID
		}

		callLog := &database.CallLog{
			ProyectoID:   proyectoID,
			Telefono:     telefonoDestino,
			Interacciono: false,
			Status:       "INITIATED_LEGACY",
			Uniqueid:     uniqueid,
			CampaignID:   campaignID,
			CallerIDUsed: callerIDUsed,
		}

		logID, err := s.repo.CreateCallLog(callLog)
		if err != nil {
			log.Printf("[Session] Warning: error creando log: %v", err)
		}
		s.logID = logID
	}

	s.Verbose("Apicall: Respondiendo llamada...", 3)
	if err := s.Answer(); err != nil {
		log.Printf("[Session] ERROR: Answer() falló: %v", err)
		s.updateLog("COMPLETED", "NA", false, "", int(time.Since(startTime).Seconds()), nil)
		return err
	}

	if proyecto.AMDActive {
		s.Verbose("Apicall: Ejecutando AMD (Answering Machine Detection)...", 3)
		// initial_silence|greeting|after_greeting_silence|total_analysis_time|
		// min_word_length|between_words_silence|maximum_number_of_words|silence_threshold
		amdParams := "1500|1000|500|3000|100|50|3|256"
		if err := s.Exec("AMD", amdParams); err != nil {
			s.Verbose(fmt.Sprintf("Apicall Warning: Error ejecutando AMD: %v", err), 3)
		} else {
			amdStatus, _ := s.GetVariable("AMDSTATUS")
			amdCause, _ := s.GetVariable("AMDCAUSE")
			s.Verbose(fmt.Sprintf("Apicall: AMD Resultado: %s (Causa: %s)", amdStatus, amdCause), 3)

			switch amdStatus {
			case "MACHINE":
				s.Verbose("Apicall: Maquina detectada. Colgando.", 3)
				s.updateLog("COMPLETED", "AM", true, "", int(time.Since(startTime).Seconds()), nil)
				return s.Hangup()
			case "HUMAN":
				s.Verbose("Apicall: Humano detectado. Continuando.", 3)
				s.updateLog("HUMAN", "A", true, "", int(time.Since(startTime).Seconds()), nil)
			default:
				s.Verbose(fmt.Sprintf("Apicall: AMD Incierto (%s). Asumiendo humano.", amdStatus), 3)
				s.updateLog("HUMAN", "A", true, "", int(time.Since(startTime).Seconds()), nil)
			}
		}
	}

	audioPath := fmt.Sprintf("%s/%s", s.config.Asterisk.SoundPath, proyecto.Audio)
	s.Verbose(fmt.Sprintf("Apicall: Reproduciendo archivo '%s'...", audioPath), 3)
	if err := s.StreamFile(audioPath); err != nil {
		s.Verbose(fmt.Sprintf("Apicall Error: Fallo reproduccion: %v", err), 3)
		s.updateLog("COMPLETED", "FAIL", true, "", int(time.Since(startTime).Seconds()), nil)
		return err
	}

	const maxAttempts = 2
	invalidAudio := fmt.Sprintf("%s/opcion_invalida", s.config.Asterisk.SoundPath)
	confirmAudio := fmt.Sprintf("%s/en_breve", s.config.Asterisk.SoundPath)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.Verbose(fmt.Sprintf("Apicall: Esperando DTMF (Intento %d/%d, Timeout 10s)...", attempt, maxAttempts), 3)

		dtmf, err := s.WaitForDTMF(10)
		if err != nil {
			s.Verbose(fmt.Sprintf("Apicall: Timeout esperando DTMF (Intento %d)", attempt), 3)
			if attempt < maxAttempts {
				s.StreamFile(invalidAudio)
				continue
			}
			s.Verbose("Apicall: Sin respuesta tras 2 intentos. Terminando.", 3)
			s.updateLog("COMPLETED", "N", true, "", int(time.Since(startTime).Seconds()), nil)
			return nil
		}

		s.Verbose(fmt.Sprintf("Apicall: DTMF Recibido: '%s' (Esperado: '%s')", dtmf, proyecto.DTMFEsperado), 3)

		if dtmf == proyecto.DTMFEsperado {
			s.Verbose("Apicall: DTMF correcto. Reproduciendo confirmacion...", 3)
			s.StreamFile(confirmAudio)

			s.Verbose(fmt.Sprintf("Apicall: Transfiriendo a %s...", proyecto.NumeroDesborde), 3)
			if err := s.Transfer(proyecto); err != nil {
				s.updateLog("FAILED", "FAIL", true, dtmf, int(time.Since(startTime).Seconds()), nil)
				return err
			}
			s.updateLog("COMPLETED", "XFER", true, dtmf, int(time.Since(startTime).Seconds()), nil)
			s.Verbose("=== Apicall: Sesion Terminada ===", 3)
			return nil
		}

		s.Verbose(fmt.Sprintf("Apicall: DTMF incorrecto '%s'", dtmf), 3)
		if attempt < maxAttempts {
			s.StreamFile(invalidAudio)
			continue
		}
		s.Verbose("Apicall: DTMF incorrecto tras 2 intentos. Terminando.", 3)
		s.updateLog("COMPLETED", "N", true, dtmf, int(time.Since(startTime).Seconds()), nil)
		return nil
	}

	s.Verbose("=== Apicall: Sesion Terminada ===", 3)
	return nil
}

// Transfer transfiere la llamada al número de desborde
func (s *Session) Transfer(proyecto *database.Proyecto) error {
	log.Printf("[Session] Transfiriendo a %s vía %s", proyecto.NumeroDesborde, proyecto.TroncalSalida)

	s.SetVariable("APICALL_TRUNK", proyecto.TroncalSalida)
	s.SetVariable("APICALL_PREFIX", proyecto.PrefijoSalida)
	s.SetVariable("APICALL_CALLERID", proyecto.CallerID)
	s.SetVariable("APICALL_TRANSFER", proyecto.NumeroDesborde)

	// El dialplan revisará APICALL_TRANSFER después del AGI y ejecutará el Dial
	return nil
}

// updateLog actualiza el registro de llamada y el estado del contacto si aplica
func (s *Session) updateLog(status string, disposition string, interacciono bool, dtmf string, duracion int, uniqueid *string) {
	if s.logID == 0 {
		return
	}

	var dtmfPtr *string
	if dtmf != "" {
		dtmfPtr = &dtmf
	}
	var dispositionPtr *string
	if disposition != "" {
		dispositionPtr = &disposition
	}

	if err := s.repo.UpdateCallLog(s.logID, dtmfPtr, dispositionPtr, uniqueid, interacciono, status, duracion); err != nil {
		log.Printf("[Session] Error actualizando log: %v", err)
	}

	if s.contactID > 0 {
		contactStatus := mapCallStatusToContactStatus(disposition)
		if err := s.repo.UpdateContactStatus(s.contactID, contactStatus, &status); err != nil {
			log.Printf("[Session] Error actualizando contacto %d: %v", s.contactID, err)
		} else {
			log.Printf("[Session] Contacto %d actualizado a '%s' (call status: %s)", s.contactID, contactStatus, status)
		}
	}
}

// mapCallStatusToContactStatus convierte la disposition de llamada al estado del contacto
func mapCallStatusToContactStatus(disposition string) string {
	switch disposition {
	case "XFER", "A":
		return "completed"
	case "AM", "NA", "N", "B", "FAIL", "CONG", "NI", "DNC":
		return "failed"
	default:
		return "completed"
	}
}
