package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// stubClient is a Client that returns a canned response
type stubClient struct {
	mu       sync.Mutex
	calls    int
	response string
	err      error
	delay    time.Duration
	pages    []Page
}

func (s *stubClient) Generate(ctx context.Context, pages []Page, instruction string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.pages = pages
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.response, s.err
}

func (s *stubClient) Name() string { return "stub" }

func (s *stubClient) Close() error { return nil }

func (s *stubClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type failingCache struct{}

func (failingCache) Lookup(string) (*Record, bool, error) { return nil, false, errors.New("cache down") }
func (failingCache) Store(string, *Record) error          { return errors.New("cache down") }

var _ = Describe("Pipeline", func() {
	var (
		client   *stubClient
		cache    *MemoryCache
		pipeline *Pipeline
		data     []byte
	)

	BeforeEach(func() {
		client = &stubClient{response: `{"vendor_name":"Acme","total_amount":12.1,"confidence":0.9}`}
		cache = NewMemoryCache()
		pipeline = NewPipeline(client)
		data = []byte("png bytes")
	})

	It("should call the model once and parse the response", func() {
		res, err := pipeline.Extract(context.Background(), data, MediaTypePNG, cache)
		Expect(err).NotTo(HaveOccurred())
		Expect(client.Calls()).To(Equal(1))
		Expect(res.Cached).To(BeFalse())
		Expect(res.Hash).To(Equal(ContentHash(data)))
		Expect(res.Pages).To(Equal(1))
		Expect(res.Raw).To(Equal(client.response))
		Expect(*res.Record.VendorName).To(Equal("Acme"))
		Expect(cache.Len()).To(Equal(1))
	})

	It("should send the original bytes for images", func() {
		_, err := pipeline.Extract(context.Background(), data, "image/png", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(client.pages).To(Equal([]Page{{Data: data, MediaType: MediaTypePNG}}))
	})

	When("the same content is extracted twice", func() {
		It("should answer the second time from the cache", func() {
			first, err := pipeline.Extract(context.Background(), data, MediaTypePNG, cache)
			Expect(err).NotTo(HaveOccurred())

			second, err := pipeline.Extract(context.Background(), data, MediaTypePNG, cache)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Cached).To(BeTrue())
			Expect(second.Record).To(Equal(first.Record))
			Expect(second.Hash).To(Equal(first.Hash))
			Expect(client.Calls()).To(Equal(1))
		})
	})

	When("no cache is given", func() {
		It("should call the model every time", func() {
			_, _ = pipeline.Extract(context.Background(), data, MediaTypePNG, nil)
			_, _ = pipeline.Extract(context.Background(), data, MediaTypePNG, nil)
			Expect(client.Calls()).To(Equal(2))
		})
	})

	When("the model response is not JSON", func() {
		BeforeEach(func() {
			client.response = "Sorry, I cannot help with that."
		})

		It("should succeed with an empty zero-confidence record", func() {
			res, err := pipeline.Extract(context.Background(), data, MediaTypePNG, cache)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Record.Confidence).To(BeZero())
			Expect(res.Record.VendorName).To(BeNil())
			Expect(res.Malformed).To(BeTrue())
		})
	})

	When("the model response is cut off", func() {
		BeforeEach(func() {
			client.response = `{"vendor_name":"Acme","confidence":0.9`
		})

		It("should not cache the unreadable answer", func() {
			first, err := pipeline.Extract(context.Background(), data, MediaTypePNG, cache)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Malformed).To(BeTrue())
			Expect(first.Record.Confidence).To(BeZero())
			Expect(cache.Len()).To(BeZero())

			client.response = `{"vendor_name":"Acme","confidence":0.9}`
			second, err := pipeline.Extract(context.Background(), data, MediaTypePNG, cache)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Cached).To(BeFalse())
			Expect(second.Malformed).To(BeFalse())
			Expect(second.Record.Confidence).To(Equal(0.9))
			Expect(client.Calls()).To(Equal(2))
			Expect(cache.Len()).To(Equal(1))
		})
	})

	When("the model call fails", func() {
		BeforeEach(func() {
			client.err = &ClientError{Provider: "stub", StatusCode: http.StatusTooManyRequests, Kind: ErrRateLimited, Err: errors.New("429")}
		})

		It("should return the classified error", func() {
			_, err := pipeline.Extract(context.Background(), data, MediaTypePNG, cache)
			Expect(err).To(MatchError(ErrRateLimited))
		})

		It("should not cache the failure", func() {
			_, _ = pipeline.Extract(context.Background(), data, MediaTypePNG, cache)
			Expect(cache.Len()).To(BeZero())

			client.err = nil
			res, err := pipeline.Extract(context.Background(), data, MediaTypePNG, cache)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Cached).To(BeFalse())
			Expect(client.Calls()).To(Equal(2))
		})
	})

	When("the model does not answer in time", func() {
		BeforeEach(func() {
			client.delay = time.Second
			pipeline = NewPipeline(client, WithTimeout(20*time.Millisecond))
		})

		It("should report a transient failure", func() {
			_, err := pipeline.Extract(context.Background(), data, MediaTypePNG, cache)
			Expect(err).To(MatchError(ErrTransientNetwork))
		})
	})

	When("the client returns an unclassified error", func() {
		BeforeEach(func() {
			client.err = errors.New("boom")
		})

		It("should classify it as a model request failure", func() {
			_, err := pipeline.Extract(context.Background(), data, MediaTypePNG, cache)
			Expect(err).To(MatchError(ErrModelRequest))
		})
	})

	When("the document cannot be rasterized", func() {
		It("should not call the model", func() {
			_, err := pipeline.Extract(context.Background(), []byte("garbage"), MediaTypePDF, cache)
			Expect(err).To(MatchError(ErrDocumentUnreadable))
			Expect(client.Calls()).To(BeZero())
		})
	})

	When("the cache backend fails", func() {
		It("should still extract", func() {
			res, err := pipeline.Extract(context.Background(), data, MediaTypePNG, failingCache{})
			Expect(err).NotTo(HaveOccurred())
			Expect(*res.Record.VendorName).To(Equal("Acme"))
		})
	})

	It("should pass the page limit to the rasterizer", func() {
		pipeline = NewPipeline(client, WithMaxPages(2))
		res, err := pipeline.Extract(context.Background(), buildPDF(4), MediaTypePDF, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Pages).To(Equal(2))
		Expect(client.pages).To(HaveLen(2))
	})
})
