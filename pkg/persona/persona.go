// Package persona loads the agent's identity: a YAML profile with voice,
// spoken fallbacks and tool names, plus the instruction document the model
// runs with.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DatePlaceholder is replaced in the instruction document with today's
// date in the business time zone.
const DatePlaceholder = "{fecha_actual}"

// DateLayout formats DatePlaceholder (day first).
const DateLayout = "02/01/2006"

// BusinessZone is the fixed UTC-5 zone used for the instruction date.
var BusinessZone = time.FixedZone("UTC-5", -5*60*60)

var (
	ErrEmptyInstructions = errors.New("persona: empty instruction document")
	ErrInvalidProfile    = errors.New("persona: invalid profile")
)

// Messages are the fixed strings returned to the model when a tool cannot
// do its job.
type Messages struct {
	KnowledgeNotConfigured string `yaml:"knowledge_not_configured"`
	KnowledgeNoResults     string `yaml:"knowledge_no_results"`
	KnowledgeError         string `yaml:"knowledge_error"`

	SchedulingUnavailable string `yaml:"scheduling_unavailable"`
	SchedulingError       string `yaml:"scheduling_error"`
	SlotTaken             string `yaml:"slot_taken"`

	// BookingRefused is a format string receiving the missing field labels.
	BookingRefused string `yaml:"booking_refused"`

	// ProspectRefused is a format string receiving the missing field labels.
	ProspectRefused string `yaml:"prospect_refused"`
	InvalidPhone    string `yaml:"invalid_phone"`

	TransferNoParticipant string `yaml:"transfer_no_participant"`
	TransferNoDestination string `yaml:"transfer_no_destination"`
	TransferDone          string `yaml:"transfer_done"`

	// TransferFailed is returned when the transfer request fails.
	TransferFailed string `yaml:"transfer_failed"`

	// TransferNotTelephony is returned when the caller is not on a SIP leg.
	TransferNotTelephony string `yaml:"transfer_not_telephony"`

	CallEnded string `yaml:"call_ended"`

	// MissingArgument and InvalidArgument receive the argument description.
	MissingArgument string `yaml:"missing_argument"`
	InvalidArgument string `yaml:"invalid_argument"`

	// UnknownTool receives the requested tool name.
	UnknownTool   string `yaml:"unknown_tool"`
	InternalError string `yaml:"internal_error"`
}

// Profile describes one deployed agent.
type Profile struct {
	Name     string `yaml:"name"`
	Company  string `yaml:"company"`
	Identity string `yaml:"identity"`
	Language string `yaml:"language"`
	Voice    string `yaml:"voice"`

	// Greeting and Farewell are one-off instructions for generated replies.
	Greeting string `yaml:"greeting"`
	Farewell string `yaml:"farewell"`

	// ToolNames maps a tool's canonical name to the name the model sees.
	ToolNames map[string]string `yaml:"tool_names"`

	Messages Messages `yaml:"messages"`
}

// DefaultProfile returns Gabriela, the Spanish-speaking assistant.
func DefaultProfile() Profile {
	return Profile{
		Name:     "Gabriela",
		Company:  "Iceeme Cuevas",
		Identity: "autofuturo-ia",
		Language: "es",
		Voice:    "5c5ad5e7-1020-476b-8b91-fdcbe9cc313c",
		Greeting: "Saluda al usuario y ofrecele tu ayuda.",
		Farewell: "Agradece al usuario por su tiempo y despidete amablemente. Se breve.",
		ToolNames: map[string]string{
			"search_knowledge":            "buscar_en_base_de_conocimiento",
			"check_engineer_availability": "consultar_disponibilidad_ingenieros",
			"save_prospect":               "guardar_prospecto",
			"list_available_slots":        "consultar_horarios_disponibles",
			"book_appointment":            "agendar_cita",
			"transfer_call":               "transfer_call",
			"end_call":                    "end_call",
		},
		Messages: DefaultMessages(),
	}
}

// DefaultMessages returns the Spanish fallbacks.
func DefaultMessages() Messages {
	return Messages{
		KnowledgeNotConfigured: "La base de conocimiento no esta configurada. Por favor, contacta con nuestro servicio al cliente para obtener informacion.",
		KnowledgeNoResults:     "No encontre informacion especifica sobre tu consulta. Te recomiendo contactar directamente con nuestro servicio al cliente.",
		KnowledgeError:         "Lo siento, estoy teniendo problemas para consultar la informacion. Por favor, intenta de nuevo.",

		SchedulingUnavailable: "La agenda no esta disponible en este momento. Ofrece que un ingeniero devuelva la llamada.",
		SchedulingError:       "No pude consultar la agenda en este momento. Ofrece que un ingeniero devuelva la llamada.",
		SlotTaken:             "Ese horario ya no esta disponible. Consulta los horarios libres y ofrece otra opcion.",

		BookingRefused:  "No se puede agendar todavia. Faltan estos datos: %s. Pideselos al cliente antes de agendar.",
		ProspectRefused: "No se pueden guardar los datos. Falta: %s.",
		InvalidPhone:    "El telefono no es valido. Pide al cliente que lo repita con todos sus digitos.",

		TransferNoParticipant: "Error: No hay participante configurado para transferir",
		TransferNoDestination: "No puedo transferir la llamada en este momento. Por favor, contacta directamente con nuestro servicio al cliente.",
		TransferDone:          "Transferencia completada exitosamente",
		TransferFailed:        "No se pudo transferir la llamada en este momento.",
		TransferNotTelephony:  "La transferencia solo esta disponible en llamadas telefonicas reales.",

		CallEnded: "llamada terminada",

		MissingArgument: "Falta un dato para usar esta herramienta: %s.",
		InvalidArgument: "Dato no valido: %s.",
		UnknownTool:     "La herramienta %s no existe.",
		InternalError:   "Ocurrio un error interno. Continua la conversacion sin esta herramienta.",
	}
}

// ToolName returns the name the model sees for canonical.
func (p Profile) ToolName(canonical string) string {
	if name, ok := p.ToolNames[canonical]; ok && name != "" {
		return name
	}
	return canonical
}

// Validate checks the profile after loading.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	seen := make(map[string]string, len(p.ToolNames))
	for canonical, name := range p.ToolNames {
		if other, dup := seen[name]; dup {
			return fmt.Errorf("%w: tools %s and %s share the name %q", ErrInvalidProfile, other, canonical, name)
		}
		seen[name] = canonical
	}
	if !strings.Contains(p.Messages.BookingRefused, "%s") {
		return fmt.Errorf("%w: messages.booking_refused needs a %%s verb", ErrInvalidProfile)
	}
	formats := []struct {
		key, value string
	}{
		{"booking_refused", p.Messages.BookingRefused},
		{"prospect_refused", p.Messages.ProspectRefused},
		{"missing_argument", p.Messages.MissingArgument},
		{"invalid_argument", p.Messages.InvalidArgument},
		{"unknown_tool", p.Messages.UnknownTool},
	}
	for _, f := range formats {
		if strings.Count(f.value, "%s") != 1 {
			return fmt.Errorf("%w: messages.%s needs exactly one %%s verb", ErrInvalidProfile, f.key)
		}
	}
	return nil
}

// LoadProfile reads a YAML profile. Keys missing from the file keep their
// DefaultProfile values. An empty path returns the default profile.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Persona is a loaded profile plus its rendered instructions.
type Persona struct {
	Profile      Profile
	Instructions string
}

// Load reads the profile and instruction document and renders the
// instructions for now.
func Load(profilePath, promptPath string, now time.Time) (*Persona, error) {
	p, err := LoadProfile(profilePath)
	if err != nil {
		return nil, err
	}
	tmpl, err := LoadInstructions(promptPath)
	if err != nil {
		return nil, err
	}
	return &Persona{Profile: p, Instructions: Render(tmpl, now)}, nil
}

// LoadInstructions reads the raw instruction document.
func LoadInstructions(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read instructions: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyInstructions, path)
	}
	return text, nil
}

// Render fills DatePlaceholder with now in BusinessZone.
func Render(tmpl string, now time.Time) string {
	return strings.ReplaceAll(tmpl, DatePlaceholder, now.In(BusinessZone).Format(DateLayout))
}
