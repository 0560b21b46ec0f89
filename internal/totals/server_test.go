package totals

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

type upload struct {
	field       string
	filename    string
	contentType string
}

func multipartBody(month string, uploads ...upload) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, u := range uploads {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+u.field+`"; filename="`+u.filename+`"`)
		if u.contentType != "" {
			h.Set("Content-Type", u.contentType)
		}
		part, err := writer.CreatePart(h)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte(u.filename))
		Expect(err).NotTo(HaveOccurred())
	}
	if month != "" {
		Expect(writer.WriteField("month", month)).To(Succeed())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		extractor   *mockExtractor
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		extractor = newMockExtractor()
		extractor.found("a.png", 1000)
		extractor.found("b.jpg", 2500)
		service := NewServiceWithDeps(
			NewAggregator(extractor),
			&mockIDGenerator{id: "report-1"},
			&mockTimeSource{now: time.Date(2025, time.March, 14, 9, 0, 0, 0, time.UTC)},
		)
		server = NewServerWithMux(service, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	post := func(month string, uploads ...upload) *http.Response {
		body, contentType := multipartBody(month, uploads...)
		resp, err := http.Post(ghttpServer.URL()+"/api/totals", contentType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeError := func(resp *http.Response) string {
		var payload map[string]string
		Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
		return payload["error"]
	}

	Describe("POST /api/totals", func() {
		When("receipts are uploaded", func() {
			var resp *http.Response

			BeforeEach(func() {
				resp = post("2025-02",
					upload{field: "files", filename: "a.png", contentType: "image/png"},
					upload{field: "files", filename: "b.jpg"},
				)
			})

			AfterEach(func() {
				resp.Body.Close()
			})

			It("should return status OK", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			})

			It("should return the report", func() {
				var report MonthlyReport
				Expect(json.NewDecoder(resp.Body).Decode(&report)).To(Succeed())
				Expect(report.ID).To(Equal("report-1"))
				Expect(report.Month.String()).To(Equal("2025-02"))
				Expect(report.Total).To(Equal(int64(3500)))
				Expect(report.Display).To(Equal("3,500 원"))
				Expect(report.Items).To(HaveLen(2))
			})

			It("should extract the files in upload order", func() {
				Expect(extractor.callsMade()).To(Equal([]string{"a.png", "b.jpg"}))
			})

			It("should set CORS headers", func() {
				Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			})
		})

		When("a single file is uploaded under the file field", func() {
			It("should accept it", func() {
				resp := post("", upload{field: "file", filename: "a.png", contentType: "image/png"})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		When("no files are uploaded", func() {
			It("should return status Bad Request with a warning", func() {
				resp := post("2025-02")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(Equal("upload at least one receipt image"))
			})
		})

		When("the month is malformed", func() {
			It("should return status Bad Request", func() {
				resp := post("2025/02", upload{field: "files", filename: "a.png"})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(ContainSubstring("expected YYYY-MM"))
			})

			It("should not extract anything", func() {
				resp := post("2025/02", upload{field: "files", filename: "a.png"})
				resp.Body.Close()
				Expect(extractor.callsMade()).To(BeEmpty())
			})
		})

		When("the body is not multipart", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/totals", "application/json", bytes.NewBufferString("{}"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("an extraction fails", func() {
			BeforeEach(func() {
				extractor.errs["b.jpg"] = errors.New("model unavailable")
			})

			It("should return status Bad Gateway with the error", func() {
				resp := post("", upload{field: "files", filename: "a.png"}, upload{field: "files", filename: "b.jpg"})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(decodeError(resp)).To(ContainSubstring("model unavailable"))
			})
		})
	})

	Describe("GET /api/months", func() {
		It("should return the months of the current year and the default", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/months")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var options struct {
				Months  []string `json:"months"`
				Default string   `json:"default"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&options)).To(Succeed())
			Expect(options.Months).To(HaveLen(12))
			Expect(options.Months[0]).To(Equal("2025-01"))
			Expect(options.Default).To(Equal("2025-03"))
		})
	})

	Describe("GET /healthz", func() {
		It("should return ok", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("ok"))
		})
	})

	Describe("OPTIONS preflight", func() {
		It("should return No Content with CORS headers", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/totals", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
		})
	})

	Describe("unknown methods", func() {
		It("should return status Method Not Allowed", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/totals")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})
})
