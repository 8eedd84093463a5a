package kitchen

import (
	"encoding/json"
	"fmt"

	"github.com/appetiteclub/apt"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	OrderStreamServiceName = "kitchensync.v1.OrderStream"
	StreamOrdersMethod     = "/" + OrderStreamServiceName + "/StreamOrders"
)

// OrderStreamService streams kitchen order events. Requests and responses
// are google.protobuf.Struct messages so displays need no generated code.
type OrderStreamService interface {
	StreamOrders(req *structpb.Struct, stream grpc.ServerStream) error
}

var OrderStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: OrderStreamServiceName,
	HandlerType: (*OrderStreamService)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamOrders",
			Handler:       streamOrdersHandler,
			ServerStreams: true,
		},
	},
	Metadata: "kitchensync/v1/order_stream.proto",
}

func streamOrdersHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(OrderStreamService).StreamOrders(req, stream)
}

// OrderStreamServer implements OrderStreamService on top of the aggregator
// and the broadcaster.
type OrderStreamServer struct {
	aggregator  *Aggregator
	broadcaster *Broadcaster
	logger      apt.Logger
}

func NewOrderStreamServer(aggregator *Aggregator, broadcaster *Broadcaster, logger apt.Logger) *OrderStreamServer {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OrderStreamServer{
		aggregator:  aggregator,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// RegisterGRPCService registers this service with the gRPC server.
func (s *OrderStreamServer) RegisterGRPCService(server *grpc.Server) {
	server.RegisterService(&OrderStreamServiceDesc, s)
}

// StreamOrders sends the active orders followed by live events. The
// optional "source" request field limits the stream to POS or ONLINE.
func (s *OrderStreamServer) StreamOrders(req *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()

	var source Source
	if v, ok := req.GetFields()["source"]; ok {
		source = Source(v.GetStringValue())
	}

	subscriberID, events, cancel := s.broadcaster.Subscribe()
	defer cancel()
	s.logger.Info("new order stream subscriber", "subscriber_id", subscriberID, "source_filter", string(source))
	defer s.logger.Info("order stream subscriber disconnected", "subscriber_id", subscriberID)

	orders, err := s.aggregator.Active(ctx, Filter{Source: source})
	if err != nil {
		return err
	}
	for _, o := range orders {
		env, err := snapshotEnvelope(o)
		if err != nil {
			s.logger.Error("cannot encode order", "order_id", o.ID, "error", err)
			continue
		}
		if err := s.send(stream, env); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-events:
			if !ok {
				return nil
			}
			if source != "" && env.Source != source {
				continue
			}
			if err := s.send(stream, env); err != nil {
				return err
			}
		}
	}
}

func (s *OrderStreamServer) send(stream grpc.ServerStream, env Envelope) error {
	msg, err := EnvelopeMessage(env)
	if err != nil {
		s.logger.Error("cannot convert event", "event_type", env.EventType, "error", err)
		return nil
	}
	if err := stream.SendMsg(msg); err != nil {
		s.logger.Errorf("failed to send event: %v", err)
		return err
	}
	return nil
}

// EnvelopeMessage converts an envelope into its wire message.
func EnvelopeMessage(env Envelope) (*structpb.Struct, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"event_type": env.EventType,
		"order_id":   env.OrderID,
		"source":     string(env.Source),
		"event":      payload,
	})
}
