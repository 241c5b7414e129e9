package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/go-callagent/pkg/booking"
	"github.com/teslashibe/go-callagent/pkg/knowledge"
	"github.com/teslashibe/go-callagent/pkg/scheduling"
	"github.com/teslashibe/go-callagent/pkg/telephony"
)

// Canonical tool names.
const (
	SearchKnowledge           = "search_knowledge"
	CheckEngineerAvailability = "check_engineer_availability"
	SaveProspect              = "save_prospect"
	ListAvailableSlots        = "list_available_slots"
	BookAppointment           = "book_appointment"
	TransferCall              = "transfer_call"
	EndCall                   = "end_call"
)

func object(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func (d *Dispatcher) builtin() []Tool {
	return []Tool{
		{
			Name:        SearchKnowledge,
			Description: "Busca en la base de conocimiento de la empresa. Usala para toda pregunta sobre la empresa, sus servicios, proyectos, certificaciones o clientes.",
			Parameters: object([]string{"question"}, map[string]any{
				"question": str("La pregunta del cliente, tal como la formulo"),
			}),
			Handler: d.searchKnowledge,
		},
		{
			Name:        CheckEngineerAvailability,
			Description: "Consulta si hay ingenieros disponibles en una fecha.",
			Parameters: object([]string{"date"}, map[string]any{
				"date": str("Fecha en formato AAAA-MM-DD"),
			}),
			Handler: d.checkAvailability,
		},
		{
			Name:        SaveProspect,
			Description: "Guarda el nombre y el telefono del cliente interesado. Usala apenas tengas ambos datos.",
			Parameters: object([]string{"name", "phone"}, map[string]any{
				"name":  str("Nombre completo del cliente"),
				"phone": str("Telefono del cliente solo con digitos, con prefijo + si lo tiene, por ejemplo +56912345678"),
			}),
			Handler: d.saveProspect,
		},
		{
			Name:        ListAvailableSlots,
			Description: "Lista los proximos horarios libres para una reunion.",
			Parameters:  object(nil, map[string]any{}),
			Handler:     d.listSlots,
		},
		{
			Name:        BookAppointment,
			Description: "Agenda la reunion. Solo funciona cuando el nombre y el telefono ya fueron guardados y tienes servicio, modalidad, fecha y hora confirmados por el cliente.",
			Parameters: object([]string{"service", "modality", "date", "time"}, map[string]any{
				"service":  str("Servicio de interes"),
				"modality": str("presencial o videollamada"),
				"date":     str("Fecha en formato AAAA-MM-DD"),
				"time":     str("Hora en formato HH:MM"),
			}),
			Handler: d.bookAppointment,
		},
		{
			Name:        TransferCall,
			Description: "Transfiere la llamada a un ingeniero o ejecutivo cuando el cliente lo pide.",
			Parameters: object([]string{"reason"}, map[string]any{
				"reason":      str("Por que el cliente quiere ser transferido"),
				"transfer_to": str("A quien quiere hablar el cliente, por ejemplo ingeniero o ejecutivo"),
			}),
			Handler: d.transferCall,
		},
		{
			Name:        EndCall,
			Description: "Termina la llamada cuando la conversacion concluyo o el cliente se despide.",
			Parameters:  object(nil, map[string]any{}),
			Handler:     d.endCall,
		},
	}
}

func (d *Dispatcher) searchKnowledge(ctx context.Context, args Args) Result {
	if d.deps.Knowledge == nil || !d.deps.Knowledge.Configured() {
		return Err(KindUnavailable, d.msgs.KnowledgeNotConfigured)
	}
	question := args.String("question")
	if question == "" {
		return Err(KindInvalidArgument, fmt.Sprintf(d.msgs.MissingArgument, "question"))
	}

	snippets, err := d.deps.Knowledge.Search(ctx, question)
	switch {
	case errors.Is(err, knowledge.ErrNotConfigured):
		return Err(KindUnavailable, d.msgs.KnowledgeNotConfigured)
	case err != nil:
		d.logger.Error("knowledge search failed", "error", err)
		return Err(KindTransport, d.msgs.KnowledgeError)
	case len(snippets) == 0:
		return Ok(d.msgs.KnowledgeNoResults)
	}
	return Ok(knowledge.Format(snippets))
}

func (d *Dispatcher) checkAvailability(ctx context.Context, args Args) Result {
	if d.deps.Scheduler == nil {
		return Err(KindUnavailable, d.msgs.SchedulingUnavailable)
	}
	date := args.String("date")
	if date == "" {
		return Err(KindInvalidArgument, fmt.Sprintf(d.msgs.MissingArgument, booking.FieldDate.Label()))
	}
	text, err := d.deps.Scheduler.CheckEngineerAvailability(ctx, date)
	if err != nil {
		return d.schedulingFailure(err)
	}
	return Ok(text)
}

func (d *Dispatcher) saveProspect(ctx context.Context, args Args) Result {
	name, phone := args.String("name"), args.String("phone")

	var missing []booking.Field
	if name == "" {
		missing = append(missing, booking.FieldCustomerName)
	}
	if phone == "" {
		missing = append(missing, booking.FieldCustomerPhone)
	}
	if len(missing) > 0 {
		return Err(KindPrecondition, fmt.Sprintf(d.msgs.ProspectRefused, booking.Labels(missing)))
	}

	phone, err := NormalizePhone(phone)
	if err != nil {
		return Err(KindInvalidArgument, d.msgs.InvalidPhone)
	}

	if err := d.deps.Slots.Merge(map[booking.Field]string{
		booking.FieldCustomerName:  name,
		booking.FieldCustomerPhone: phone,
	}); err != nil {
		return d.invalidSlot(err)
	}

	if d.deps.Scheduler == nil {
		return Err(KindUnavailable, d.msgs.SchedulingUnavailable)
	}
	text, err := d.deps.Scheduler.SaveProspect(ctx, scheduling.Prospect{Name: name, Phone: phone})
	if err != nil {
		return d.schedulingFailure(err)
	}
	return Ok(text)
}

func (d *Dispatcher) listSlots(ctx context.Context, _ Args) Result {
	if d.deps.Scheduler == nil {
		return Err(KindUnavailable, d.msgs.SchedulingUnavailable)
	}
	text, err := d.deps.Scheduler.ListAvailableSlots(ctx)
	if err != nil {
		return d.schedulingFailure(err)
	}
	return Ok(text)
}

// bookAppointment applies the four arguments to the tracker and books only
// when all six slots are filled. A successful booking consumes the slots,
// so the next booking needs save_prospect again.
func (d *Dispatcher) bookAppointment(ctx context.Context, args Args) Result {
	err := d.deps.Slots.Merge(map[booking.Field]string{
		booking.FieldService:  args.String("service"),
		booking.FieldModality: args.String("modality"),
		booking.FieldDate:     args.String("date"),
		booking.FieldTime:     args.String("time"),
	})
	if err != nil {
		return d.invalidSlot(err)
	}

	slots := d.deps.Slots.Snapshot()
	if missing := slots.Missing(); len(missing) > 0 {
		return Err(KindPrecondition, fmt.Sprintf(d.msgs.BookingRefused, booking.Labels(missing)))
	}
	if d.deps.Scheduler == nil {
		return Err(KindUnavailable, d.msgs.SchedulingUnavailable)
	}

	text, err := d.deps.Scheduler.BookAppointment(ctx, slots)
	if err != nil {
		return d.schedulingFailure(err)
	}
	d.deps.Slots.Consume()
	return Ok(text)
}

func (d *Dispatcher) transferCall(ctx context.Context, args Args) Result {
	d.logger.Info("transfer requested", "reason", args.String("reason"), "transfer_to", args.String("transfer_to"))

	var participant, room string
	if d.deps.Call != nil {
		participant, room = d.deps.Call.Participant(), d.deps.Call.Room()
	}
	if participant == "" {
		return Err(KindPrecondition, d.msgs.TransferNoParticipant)
	}
	if d.deps.TransferTo == "" || d.deps.Telephony == nil {
		return Err(KindUnavailable, d.msgs.TransferNoDestination)
	}

	err := d.deps.Telephony.TransferParticipant(ctx, room, participant, telephony.TelURI(d.deps.TransferTo))
	switch {
	case errors.Is(err, telephony.ErrNoParticipant):
		return Err(KindPrecondition, d.msgs.TransferNoParticipant)
	case errors.Is(err, telephony.ErrNoDestination):
		return Err(KindUnavailable, d.msgs.TransferNoDestination)
	case errors.Is(err, telephony.ErrNotSIP):
		d.logger.Warn("transfer refused", "participant", participant, "error", err)
		return Err(KindTransport, d.msgs.TransferNotTelephony)
	case err != nil:
		d.logger.Error("transfer failed", "participant", participant, "error", err)
		return Err(KindTransport, d.msgs.TransferFailed)
	}
	return Ok(d.msgs.TransferDone)
}

func (d *Dispatcher) endCall(ctx context.Context, _ Args) Result {
	if d.deps.Call == nil {
		return Err(KindInternal, d.msgs.InternalError)
	}
	if err := d.deps.Call.End(ctx); err != nil {
		d.logger.Warn("end call finished with error", "error", err)
	}
	return Ok(d.msgs.CallEnded)
}

// invalidSlot names the rejected booking field without the error text.
func (d *Dispatcher) invalidSlot(err error) Result {
	d.logger.Warn("booking value rejected", "error", err)
	if errors.Is(err, booking.ErrInvalidModality) {
		return Err(KindInvalidArgument, fmt.Sprintf(d.msgs.InvalidArgument,
			booking.FieldModality.Label()+" debe ser presencial o videollamada"))
	}
	label := "valor"
	var ferr *booking.FieldError
	if errors.As(err, &ferr) {
		label = ferr.Field.Label()
	}
	return Err(KindInvalidArgument, fmt.Sprintf(d.msgs.InvalidArgument, label))
}

// schedulingFailure maps a scheduler error to a result.
func (d *Dispatcher) schedulingFailure(err error) Result {
	var remote *scheduling.RemoteError
	switch {
	case errors.Is(err, scheduling.ErrSlotTaken):
		return Err(KindPrecondition, d.msgs.SlotTaken)
	case errors.Is(err, scheduling.ErrInvalidRequest):
		return Err(KindInvalidArgument, fmt.Sprintf(d.msgs.InvalidArgument, detail(err, scheduling.ErrInvalidRequest)))
	case errors.As(err, &remote) && remote.Message != "":
		d.logger.Warn("scheduler rejected call", "tool", remote.Tool, "error", remote.Message)
		return Err(KindTransport, remote.Message)
	}
	d.logger.Error("scheduler failed", "error", err)
	return Err(KindTransport, d.msgs.SchedulingError)
}

// detail returns the text that follows sentinel in err's message.
func detail(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}
