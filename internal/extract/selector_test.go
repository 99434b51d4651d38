package extract

import "testing"

func TestSelectedEdition(t *testing.T) {
	cases := []struct {
		name string
		page string
		want string
		ok   bool
	}{
		{"path value", `<select id="ediciones">
			<option value="https://www.diariooficial.interior.gob.cl/edicion-44203/">18-07-2025</option>
			<option value="https://www.diariooficial.interior.gob.cl/edicion-44204/" selected="selected">21-07-2025</option>
		</select>`, "44204", true},
		{"first when none selected", `<select id="ediciones">
			<option value="index.php?date=21-07-2025&edition=44204">44204</option>
			<option value="index.php?date=21-07-2025&edition=44204-B">44204-B</option>
		</select>`, "44204", true},
		{"special edition", `<select id="ediciones">
			<option value="index.php?edition=44204">44204</option>
			<option value="index.php?edition=44204-B" selected>44204-B</option>
		</select>`, "44204-B", true},
		{"unnamed select", `<select name="x"><option>Todas</option></select>
			<select><option value="">Seleccione</option><option value="index.php?edition=44196" selected>44196</option></select>`, "44196", true},
		{"option text", `<select id="ediciones"><option selected>44192</option></select>`, "44192", true},
		{"missing", `<html><body>sin selector</body></html>`, "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := SelectedEdition(c.page)
			if got != c.want || ok != c.ok {
				t.Errorf("SelectedEdition = %q, %v; want %q, %v", got, ok, c.want, c.ok)
			}
		})
	}
}
