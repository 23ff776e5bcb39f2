package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/fathom-ml/fathom/pkg/predictor"
	"github.com/fathom-ml/fathom/pkg/serving"
	"github.com/fathom-ml/fathom/pkg/tensor"
)

type httpServer struct {
	modelName string
	base      *predictor.Predictor
}

func (s *httpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	switch {
	case path == "healthz" && r.Method == "GET":
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			klog.FromContext(r.Context()).Error(err, "writing healthz response")
		}
	case path == "v1/model" && r.Method == "GET":
		s.serveModelInfo(w, r)
	case path == "v1/predict" && r.Method == "POST":
		s.servePredict(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *httpServer) serveModelInfo(w http.ResponseWriter, r *http.Request) {
	log := klog.FromContext(r.Context())

	info := map[string]any{
		"name":    s.modelName,
		"feeds":   s.base.FeedNames(),
		"fetches": s.base.FetchNames(),
	}
	data, err := sonic.Marshal(info)
	if err != nil {
		log.Error(err, "encoding model info")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		log.Error(err, "writing response")
	}
}

func (s *httpServer) servePredict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := klog.FromContext(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	request := &serving.PredictRequest{}
	if err := sonic.Unmarshal(body, request); err != nil {
		http.Error(w, "decoding request: "+err.Error(), http.StatusBadRequest)
		return
	}

	inputs := make([]*tensor.Tensor, 0, len(request.Inputs))
	for i := range request.Inputs {
		in, err := request.Inputs[i].ToTensor()
		if err != nil {
			http.Error(w, "decoding input tensor: "+err.Error(), http.StatusBadRequest)
			return
		}
		inputs = append(inputs, in)
	}

	// Each request runs on its own clone: the shared weights are reused,
	// everything per-call is isolated, and concurrent requests never touch
	// the same session.
	p, err := s.base.Clone()
	if err != nil {
		log.Error(err, "cloning predictor")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Error(err, "closing predictor clone")
		}
	}()

	outputs, err := p.RunWithBatchSize(ctx, inputs, request.BatchSize)
	if err != nil {
		writeRunError(ctx, w, err)
		return
	}

	response := &serving.PredictResponse{}
	for _, out := range outputs {
		wire, err := serving.FromTensor(out)
		if err != nil {
			log.Error(err, "encoding output tensor")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		response.Outputs = append(response.Outputs, wire)
	}

	data, err := sonic.Marshal(response)
	if err != nil {
		log.Error(err, "encoding response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		log.Error(err, "writing response")
	}
}

// writeRunError maps predictor errors onto the HTTP surface via grpc codes:
// caller-input problems are InvalidArgument, internal desyncs are Internal.
func writeRunError(ctx context.Context, w http.ResponseWriter, err error) {
	log := klog.FromContext(ctx)

	st := statusFor(err)
	switch st.Code() {
	case codes.InvalidArgument:
		http.Error(w, st.Message(), http.StatusBadRequest)
	default:
		log.Error(err, "running inference")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func statusFor(err error) *status.Status {
	switch {
	case errors.Is(err, predictor.ErrInvalidInput), errors.Is(err, predictor.ErrMarshal):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, predictor.ErrInternal):
		return status.New(codes.Internal, err.Error())
	default:
		return status.New(codes.Unknown, err.Error())
	}
}
