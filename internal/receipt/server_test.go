package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-ocr/internal/ocr"
)

var _ = Describe("Server", func() {
	var (
		engine      *mockEngine
		completer   *mockCompleter
		service     *Service
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		engine = &mockEngine{
			result: mustOCRResult("STORE A\nMILK 3.99\nTOTAL 3.99"),
		}
		completer = &mockCompleter{
			response: `{"merchant":{"name":"STORE A"},"transaction":{"total":3.99},"items":[{"description":"MILK","quantity":1,"unit_price":3.99,"total_price":3.99}]}`,
		}
		service = NewService(engine, completer, newValidator(), 0)
		server = NewServerWithMux(service, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	postMultipart := func(filename string, data []byte) *http.Response {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+"/process-receipt", writer.FormDataContentType(), &body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	postJSON := func(payload any) *http.Response {
		data, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.Post(ghttpServer.URL()+"/process-receipt", "application/json", bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeBody := func(resp *http.Response, out any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
	}

	Describe("GET /health", func() {
		It("returns healthy unconditionally", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body map[string]string
			decodeBody(resp, &body)
			Expect(body["status"]).To(Equal("healthy"))
			Expect(body["service"]).To(Equal("receipt-ocr"))
		})
	})

	Describe("GET /metrics", func() {
		It("serves the Prometheus registry", func() {
			// generate at least one observation first
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			ghttpServer.AppendHandlers(server.ServeHTTP)
			resp, err = http.Get(ghttpServer.URL() + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("receipt_ocr_http_requests_total"))
		})
	})

	Describe("POST /process-receipt", func() {
		When("uploading a valid image as multipart", func() {
			var resp *http.Response

			BeforeEach(func() {
				resp = postMultipart("receipt.png", testPNG())
			})

			It("returns 200", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})

			It("returns the structured fields plus raw_text", func() {
				var body struct {
					Merchant struct {
						Name *string `json:"name"`
					} `json:"merchant"`
					Transaction struct {
						Total *float64 `json:"total"`
					} `json:"transaction"`
					Items   []map[string]any `json:"items"`
					RawText string           `json:"raw_text"`
				}
				decodeBody(resp, &body)
				Expect(*body.Merchant.Name).To(Equal("STORE A"))
				Expect(*body.Transaction.Total).To(Equal(3.99))
				Expect(body.Items).To(HaveLen(1))
				Expect(body.RawText).To(Equal("STORE A\nMILK 3.99\nTOTAL 3.99"))
			})
		})

		When("uploading a valid image as base64 JSON", func() {
			It("returns 200 with the parsed receipt", func() {
				resp := postJSON(map[string]string{
					"image_base64": base64.StdEncoding.EncodeToString(testPNG()),
				})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})
		})

		When("uploading a data-URL-prefixed base64 image", func() {
			It("returns 200", func() {
				resp := postJSON(map[string]string{
					"image_base64": "data:image/png;base64," + base64.StdEncoding.EncodeToString(testPNG()),
				})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})
		})

		When("the JSON body has no image", func() {
			It("returns 400 with the InvalidImage code", func() {
				resp := postJSON(map[string]string{})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var body errorBody
				decodeBody(resp, &body)
				Expect(body.Error.Code).To(Equal(CodeInvalidImage))
			})
		})

		When("the multipart form has no file field", func() {
			It("returns 400", func() {
				var buf bytes.Buffer
				writer := multipart.NewWriter(&buf)
				Expect(writer.WriteField("other", "value")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp, err := http.Post(ghttpServer.URL()+"/process-receipt", writer.FormDataContentType(), &buf)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the upload is not an image", func() {
			It("returns 400 with the InvalidImage code", func() {
				resp := postMultipart("notes.txt", []byte("these are my grocery notes"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var body errorBody
				decodeBody(resp, &body)
				Expect(body.Error.Code).To(Equal(CodeInvalidImage))
			})
		})

		When("OCR finds no text", func() {
			BeforeEach(func() {
				engine.result = mustOCRResult("")
			})

			It("returns 422 with NoTextExtracted and never calls the LLM", func() {
				resp := postMultipart("receipt.png", testPNG())
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				var body errorBody
				decodeBody(resp, &body)
				Expect(body.Error.Code).To(Equal(CodeNoTextExtracted))
				Expect(completer.calls).To(BeZero())
			})
		})

		When("the OCR backend fails", func() {
			BeforeEach(func() {
				engine.err = errors.New("backend timeout")
			})

			It("returns 500 with OcrFailed and no LLM call", func() {
				resp := postMultipart("receipt.png", testPNG())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

				var body errorBody
				decodeBody(resp, &body)
				Expect(body.Error.Code).To(Equal(CodeOcrFailed))
				Expect(completer.calls).To(BeZero())
			})

			It("does not leak backend detail to the caller", func() {
				resp := postMultipart("receipt.png", testPNG())
				defer resp.Body.Close()
				raw, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(raw)).NotTo(ContainSubstring("backend timeout"))
			})
		})

		When("the LLM fails", func() {
			BeforeEach(func() {
				completer.err = errors.New("auth error")
			})

			It("returns 500 with LlmFailed", func() {
				resp := postMultipart("receipt.png", testPNG())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

				var body errorBody
				decodeBody(resp, &body)
				Expect(body.Error.Code).To(Equal(CodeLlmFailed))
			})
		})

		When("the LLM returns prose instead of JSON", func() {
			BeforeEach(func() {
				completer.response = "I'm sorry, this receipt is illegible."
			})

			It("returns 422 with MalformedLlmOutput", func() {
				resp := postMultipart("receipt.png", testPNG())
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				var body errorBody
				decodeBody(resp, &body)
				Expect(body.Error.Code).To(Equal(CodeMalformedLlmOutput))
			})
		})

		When("the JSON body exceeds the size limit", func() {
			It("rejects it with 400 before running the pipeline", func() {
				small := NewService(engine, completer, newValidator(), 1024)
				smallServer := NewServerWithMux(small, http.NewServeMux())
				srv := ghttp.NewServer()
				defer srv.Close()
				srv.AppendHandlers(smallServer.ServeHTTP)

				payload, err := json.Marshal(map[string]string{
					"image_base64": strings.Repeat("A", 8192),
				})
				Expect(err).NotTo(HaveOccurred())

				resp, err := http.Post(srv.URL()+"/process-receipt", "application/json", bytes.NewReader(payload))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var body errorBody
				Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
				Expect(body.Error.Code).To(Equal(CodeInvalidImage))
				Expect(body.Error.Message).To(ContainSubstring("too large"))
				Expect(engine.calls).To(BeZero())
			})
		})

		When("the request is an OPTIONS preflight", func() {
			It("returns 204 with CORS headers", func() {
				req, err := http.NewRequest("OPTIONS", ghttpServer.URL()+"/process-receipt", nil)
				Expect(err).NotTo(HaveOccurred())

				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
				Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
			})
		})

		When("the request method is GET", func() {
			It("returns 405", func() {
				resp, err := http.Get(ghttpServer.URL() + "/process-receipt")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
			})
		})
	})
})

// mustOCRResult builds an ocr.Result whose full text is the given string,
// with one high-confidence fragment per line.
func mustOCRResult(text string) ocr.Result {
	r := ocr.Result{FullText: text}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		r.Fragments = append(r.Fragments, ocr.Fragment{Text: line, Confidence: 0.9})
	}
	return r
}
