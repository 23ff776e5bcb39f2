package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"k8s.io/klog/v2"

	"github.com/fathom-ml/fathom/pkg/serving"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	serverURL := "http://127.0.0.1:8080"
	name := "x"
	shape := "1,4"
	values := "1,2,3,4"
	batchSize := 0

	flag.StringVar(&serverURL, "server", serverURL, "base URL of the predictserver")
	flag.StringVar(&name, "name", name, "feed variable name")
	flag.StringVar(&shape, "shape", shape, "comma-separated input shape")
	flag.StringVar(&values, "values", values, "comma-separated float32 input values")
	flag.IntVar(&batchSize, "batch-size", batchSize, "batch size override (0 disables)")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	in := serving.WireTensor{
		Name:  name,
		DType: "float32",
	}
	for _, tok := range strings.Split(shape, ",") {
		d, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			return fmt.Errorf("parsing shape %q: %w", shape, err)
		}
		in.Shape = append(in.Shape, d)
	}
	for _, tok := range strings.Split(values, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(tok), 32)
		if err != nil {
			return fmt.Errorf("parsing values %q: %w", values, err)
		}
		in.Float32 = append(in.Float32, float32(v))
	}

	request := &serving.PredictRequest{
		Inputs:    []serving.WireTensor{in},
		BatchSize: batchSize,
	}
	body, err := sonic.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	log.Info("sending predict request", "server", serverURL, "shape", in.Shape)

	url := serverURL + "/v1/predict"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %q: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %q: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	response := &serving.PredictResponse{}
	if err := sonic.Unmarshal(respBody, response); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	for _, out := range response.Outputs {
		log.Info("output", "name", out.Name, "dtype", out.DType, "shape", out.Shape, "values", out.Float32)
	}

	return nil
}
