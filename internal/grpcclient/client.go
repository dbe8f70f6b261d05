// Package grpcclient talks to the remote palm feature detector.
//
// The detector exposes a single unary method taking and returning
// google.protobuf.Struct messages:
//
//	request:  {width, height, channels, pixels (base64 RGB)}
//	response: {found: bool, values: [number...]}
package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/palm-pay/internal/features"
	"github.com/example/palm-pay/internal/logging"
)

// ExtractMethod is the full gRPC method name of the detector.
const ExtractMethod = "/palm.v1.FeatureExtractor/Extract"

// invoker is the subset of *grpc.ClientConn used by the client.
type invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

// DialFeatureExtractor returns a ready-to-use extractor backed by the
// remote detector.
func DialFeatureExtractor(ctx context.Context, addr string, logger *zap.Logger) (features.Extractor, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_feature_extractor", "", err)
		logger.Error("failed to dial feature extractor", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewExtractor(conn, logger), conn, nil
}

// NewExtractor wraps an existing connection.
func NewExtractor(conn invoker, logger *zap.Logger) features.Extractor {
	return &grpcExtractor{conn: conn, logger: logger.Named("feature_extractor")}
}

type grpcExtractor struct {
	conn   invoker
	logger *zap.Logger
}

func (g *grpcExtractor) Extract(ctx context.Context, img *features.Image) (features.FeatureVector, error) {
	req, err := encodeImage(img)
	if err != nil {
		return features.FeatureVector{}, logging.NewOperationError("grpcclient.encode_image", "", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, ExtractMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.extract", "", err)
		g.logger.Error("feature extractor call failed", zap.Error(wrapped))
		return features.FeatureVector{}, wrapped
	}
	return decodeFeatures(resp)
}

func encodeImage(img *features.Image) (*structpb.Struct, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return nil, features.ErrInvalidImage
	}
	if len(img.Pix) != img.Width*img.Height*features.Channels {
		return nil, fmt.Errorf("%w: pixel buffer size %d does not match %dx%d", features.ErrInvalidImage, len(img.Pix), img.Width, img.Height)
	}
	return structpb.NewStruct(map[string]any{
		"width":    img.Width,
		"height":   img.Height,
		"channels": features.Channels,
		"pixels":   img.Pix,
	})
}

// decodeFeatures maps a detector response onto a FeatureVector. A response
// without found=true, or with no values, is the "not found" signal.
func decodeFeatures(resp *structpb.Struct) (features.FeatureVector, error) {
	fields := resp.GetFields()
	if !fields["found"].GetBoolValue() {
		return features.FeatureVector{}, features.ErrNoBiometricDetected
	}
	list := fields["values"].GetListValue().GetValues()
	if len(list) == 0 {
		return features.FeatureVector{}, features.ErrNoBiometricDetected
	}

	values := make([]float64, len(list))
	for i, v := range list {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return features.FeatureVector{}, logging.NewOperationError("grpcclient.decode_features", "",
				fmt.Errorf("component %d is not a number", i))
		}
		values[i] = n.NumberValue
	}
	return features.NewFeatureVector(values), nil
}
