package registry

import (
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

const (
	testUser     = "fw-user"
	testPassword = "s3cret"
)

// fakeRegistry imitates the pages and forms of the registry web application.
type fakeRegistry struct {
	t *testing.T

	mu          sync.Mutex
	token       string
	logins      int
	records     map[string]string // case id -> record id
	fdata       map[string]string // record id -> fdata object literal
	updates     map[string]url.Values
	created     []url.Values
	attachments map[string][]byte
	filenames   map[string]string
	noRedirect  bool
	nextID      int
}

func newFakeRegistry(t *testing.T) (*fakeRegistry, *httptest.Server) {
	t.Helper()

	f := &fakeRegistry{
		t:           t,
		records:     map[string]string{"F20230001": "3485"},
		fdata:       map[string]string{},
		updates:     map[string]url.Values{},
		attachments: map[string][]byte{},
		filenames:   map[string]string{},
		nextID:      4000,
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

// expire invalidates all sessions.
func (f *fakeRegistry) expire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
}

func (f *fakeRegistry) authed(r *http.Request) bool {
	c, err := r.Cookie("PHPSESSID")
	return err == nil && f.token != "" && c.Value == f.token
}

func (f *fakeRegistry) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path != "/index.php" {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()

	switch q.Get("modul") {
	case "9":
		f.serveLogin(w, r)
		return
	case "16":
		if f.authed(r) {
			fmt.Fprint(w, `<html><body><a href="index.php?modul=99"><img src="logout.png" alt="LOGOUT"></a></body></html>`)
		} else {
			fmt.Fprint(w, `<html><body><p>Bitte anmelden</p></body></html>`)
		}
		return
	}

	if !f.authed(r) {
		f.writeLoginPage(w)
		return
	}

	if q.Get("modul") != "36" {
		http.NotFound(w, r)
		return
	}

	switch {
	case q.Get("what") == "828":
		f.serveAttach(w, r, q.Get("event"))
	case q.Get("what") == "144" && q.Get("event") != "":
		f.serveEdit(w, r, q.Get("event"))
	case r.Method == http.MethodPost && q.Get("what") == "145":
		f.serveCreate(w, r)
	default:
		f.serveListing(w)
	}
}

func (f *fakeRegistry) writeLoginPage(w http.ResponseWriter) {
	fmt.Fprint(w, `<html><body>
<form method="post" action="index.php?modul=9">
  <input type="text" name="login_member_name">
  <input type="password" name="login_member_pwd">
  <input type="submit" name="login" value="Anmelden">
</form></body></html>`)
}

func (f *fakeRegistry) serveLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		f.writeLoginPage(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		f.t.Errorf("login: %v", err)
	}
	if r.PostForm.Get("login") != "Anmelden" {
		f.t.Errorf("login submit button not sent")
	}
	if r.PostForm.Get("login_member_name") == testUser && r.PostForm.Get("login_member_pwd") == testPassword {
		f.logins++
		f.token = fmt.Sprintf("session-%d", f.logins)
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: f.token, Path: "/"})
	}
	fmt.Fprint(w, `<html><body>Willkommen</body></html>`)
}

const recordForm = `<form id="einsatzrapport_main_form" method="post" action="{{.Action}}">
  <input type="hidden" name="e_r_num" value="">
  <input type="text" name="eins_ereig" value="">
  <input type="text" name="adr" value="">
  <input type="text" name="wer_ala" value="">
  <input type="text" name="bk" value="alte Bemerkung">
  <textarea name="ang_sit">
TBD1</textarea>
  <textarea name="mn">TBD2</textarea>
  <select name="ver_sart">
    <option value="th">th</option>
    <option value="ab" selected>ab</option>
  </select>
  <input type="checkbox" name="kopie_gvz" value="1">
  <input type="text" name="zh_fw_ausg_h" value="">
  <input type="text" name="zh_fw_ausg_m" value="">
  <input type="text" name="zh_am_schad_h" value="">
  <input type="text" name="zh_am_schad_m" value="">
  <input type="text" name="disabled_field" value="x" disabled>
  <input type="submit" name="speichern" value="Speichern">
  <input type="submit" name="abbrechen" value="Abbrechen">
</form>`

var recordFormTmpl = template.Must(template.New("form").Parse(recordForm))

func (f *fakeRegistry) serveListing(w http.ResponseWriter) {
	fmt.Fprint(w, `<html><body><table>`)
	for caseID, id := range f.records {
		fmt.Fprintf(w, `<tr><td><a href="index.php?modul=36&amp;what=144&amp;event=%s&amp;edit=1">%s</a></td></tr>`, id, caseID)
	}
	fmt.Fprint(w, `<tr><td><a href="index.php?modul=36&amp;what=144&amp;event=17&amp;edit=1">F20220042</a></td></tr>`)
	fmt.Fprint(w, `</table>`)
	if err := recordFormTmpl.Execute(w, map[string]string{"Action": "index.php?modul=36&what=145"}); err != nil {
		f.t.Errorf("listing: %v", err)
	}
	fmt.Fprint(w, `</body></html>`)
}

func (f *fakeRegistry) serveCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		f.t.Errorf("create: %v", err)
	}
	f.created = append(f.created, r.PostForm)
	if f.noRedirect {
		fmt.Fprint(w, `<html><body>Gespeichert</body></html>`)
		return
	}
	id := fmt.Sprint(f.nextID)
	f.nextID++
	f.records[r.PostForm.Get("e_r_num")] = id
	fmt.Fprintf(w, `<html><body><script>window.location.href='index.php?modul=36&event=%s&edit=1&what=144';</script></body></html>`, id)
}

func (f *fakeRegistry) serveEdit(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			f.t.Errorf("edit: %v", err)
		}
		f.updates[id] = r.PostForm
		fmt.Fprint(w, `<html><body>Gespeichert</body></html>`)
		return
	}

	action := "index.php?modul=36&what=144&edit=1&event=" + id
	fmt.Fprint(w, `<html><head><script src="app.js"></script></head><body>`)
	if err := recordFormTmpl.Execute(w, map[string]string{"Action": action}); err != nil {
		f.t.Errorf("edit: %v", err)
	}
	if data, ok := f.fdata[id]; ok {
		fmt.Fprintf(w, "<script>\n$(function() { init(); });\nvar fdata = %s;\nfill(fdata);\n</script>", data)
	}
	fmt.Fprint(w, `</body></html>`)
}

func (f *fakeRegistry) serveAttach(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method == http.MethodPost {
		file, header, err := r.FormFile(attachField)
		if err != nil {
			f.t.Errorf("attach: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		f.attachments[id] = data
		f.filenames[id] = header.Filename
		if r.FormValue("event") != id {
			f.t.Errorf("attach: hidden event field = %q", r.FormValue("event"))
		}
		fmt.Fprint(w, `<html><body>Hochgeladen</body></html>`)
		return
	}

	fmt.Fprintf(w, `<html><body>
<form id="frm_alarmdepesche" method="post" enctype="multipart/form-data" action="index.php?modul=36&amp;event=%s&amp;what=828">
  <input type="hidden" name="event" value="%s">
  <input type="file" name="alarmdepesche">
  <input type="submit" value="Hochladen">
</form></body></html>`, id, id)
}

func (f *fakeRegistry) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func baseURL(srv *httptest.Server) string {
	return strings.TrimSuffix(srv.URL, "/") + "/index.php"
}
