package requests

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/cuido-tech/cuido-bff/core"
	"github.com/cuido-tech/cuido-bff/core/access"
	"github.com/cuido-tech/cuido-bff/supabase"
)

const baseRefSchema = `{
	"$id": "requests/base",
	"type": "object",
	"properties": {
		"titulo": {"type": "string", "minLength": 1},
		"descripcion": {"type": "string"},
		"ubicacion": {
			"type": "object",
			"properties": {
				"direccion_linea": {"type": "string"},
				"lat": {"type": "number"},
				"lng": {"type": "number"}
			},
			"required": ["direccion_linea"]
		},
		"fechas": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"fecha": {"type": "string"},
					"hora_inicio": {"type": "string"},
					"hora_fin": {"type": "string"}
				},
				"required": ["fecha"]
			}
		},
		"precio_sugerido": {"type": "number", "minimum": 0}
	},
	"required": ["titulo", "ubicacion"]
}`

const contactRefSchema = `{
	"$id": "requests/contact",
	"type": "object",
	"properties": {
		"nombre": {"type": "string", "minLength": 1},
		"relacion": {"type": "string"},
		"telefono_e164": {"type": "string"}
	},
	"required": ["nombre"]
}`

const medicationRefSchema = `{
	"$id": "requests/medication",
	"type": "object",
	"properties": {
		"nombre": {"type": "string", "minLength": 1},
		"frecuencia": {"type": "string"},
		"dosis": {"type": "string"}
	},
	"required": ["nombre"]
}`

const grandparentsSchema = `{
	"$id": "requests/grandparents",
	"type": "object",
	"properties": {
		"base": {"$ref": "requests/base"},
		"payload": {
			"type": "object",
			"properties": {
				"servicio": {"type": "string"},
				"contacto_cercano": {"$ref": "requests/contact"},
				"personas": {
					"type": "array",
					"minItems": 1,
					"maxItems": 3,
					"items": {
						"type": "object",
						"properties": {
							"nombre_completo": {"type": "string", "minLength": 1},
							"fecha_nacimiento": {"type": "string"},
							"genero": {"type": "string"},
							"fumador": {"type": "boolean"},
							"limitacion_movimiento": {"type": "boolean"},
							"tipo_limitacion": {"type": "string"},
							"alimentos_restringidos": {"type": "array", "items": {"type": "string"}},
							"medicamentos": {"type": "array", "items": {"$ref": "requests/medication"}}
						},
						"required": ["nombre_completo"]
					}
				}
			},
			"required": ["servicio", "contacto_cercano", "personas"]
		}
	},
	"required": ["base", "payload"]
}`

const childrenSchema = `{
	"$id": "requests/children",
	"type": "object",
	"properties": {
		"base": {"$ref": "requests/base"},
		"payload": {
			"type": "object",
			"properties": {
				"servicio": {"type": "string"},
				"contacto_tutor": {"$ref": "requests/contact"},
				"personas": {
					"type": "array",
					"minItems": 1,
					"maxItems": 3,
					"items": {
						"type": "object",
						"properties": {
							"nombre_completo": {"type": "string", "minLength": 1},
							"fecha_nacimiento": {"type": "string"},
							"genero": {"type": "string"},
							"camina_solo": {"type": "boolean"},
							"dificultad_movimiento": {"type": "boolean"},
							"tipo_limitacion": {"type": "string"},
							"condicion_medica": {"type": "boolean"},
							"tipo_condicion": {"type": "string"},
							"alergias": {"type": "boolean"},
							"detalle_alergias": {"type": "string"},
							"alimentacion": {"type": "string"},
							"dieta_especial": {"type": "boolean"},
							"tipo_dieta_especial": {"type": "string"},
							"problemas_suenio": {"type": "boolean"},
							"objeto_apego": {"type": "boolean"},
							"panales": {"type": "boolean"},
							"medicamentos": {"type": "array", "items": {"$ref": "requests/medication"}}
						},
						"required": ["nombre_completo"]
					}
				}
			},
			"required": ["servicio", "contacto_tutor", "personas"]
		}
	},
	"required": ["base", "payload"]
}`

const petsSchema = `{
	"$id": "requests/pets",
	"type": "object",
	"properties": {
		"base": {"$ref": "requests/base"},
		"payload": {
			"type": "object",
			"properties": {
				"servicio": {"type": "string"},
				"modalidad": {"type": "string"},
				"contacto": {"$ref": "requests/contact"},
				"animales": {
					"type": "array",
					"minItems": 1,
					"maxItems": 3,
					"items": {
						"type": "object",
						"properties": {
							"nombre": {"type": "string", "minLength": 1},
							"especie": {"type": "string"},
							"raza": {"type": "string"},
							"tamanio": {"type": "string"},
							"personalidad": {"type": "string"},
							"foto_url": {"type": "string"},
							"problemas_salud": {"type": "boolean"},
							"descripcion_salud": {"type": "string"},
							"alimentos_preferidos": {"type": "string"},
							"clinica_veterinaria": {"type": "string"}
						},
						"required": ["nombre"]
					}
				}
			},
			"required": ["servicio", "contacto", "animales"]
		}
	},
	"required": ["base", "payload"]
}`

type dateEntry struct {
	Fecha      string `json:"fecha"`
	HoraInicio string `json:"hora_inicio"`
	HoraFin    string `json:"hora_fin"`
}

type location struct {
	DireccionLinea string  `json:"direccion_linea"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
}

type baseRequest struct {
	Titulo         string      `json:"titulo"`
	Descripcion    string      `json:"descripcion"`
	Ubicacion      location    `json:"ubicacion"`
	Fechas         []dateEntry `json:"fechas"`
	PrecioSugerido *float64    `json:"precio_sugerido"`
}

type contact struct {
	Nombre       string `json:"nombre"`
	Relacion     string `json:"relacion"`
	TelefonoE164 string `json:"telefono_e164"`
}

type medication struct {
	Nombre     string `json:"nombre"`
	Frecuencia string `json:"frecuencia"`
	Dosis      string `json:"dosis"`
}

// insertedRow captures the generated id of a freshly written row
type insertedRow struct {
	ID string `json:"id"`
}

// createParent writes the solicitudes parent row and returns its generated id.
// The dates are written right after, still before any category detail.
func (a *API) createParent(svc supabase.Client, subject, tipo string, base baseRequest) (string, error) {
	var solicitud insertedRow
	err := svc.From("solicitudes").Insert(map[string]interface{}{
		"usuario_id":      subject,
		"tipo":            tipo,
		"titulo":          base.Titulo,
		"descripcion":     base.Descripcion,
		"direccion_linea": base.Ubicacion.DireccionLinea,
		"lat":             base.Ubicacion.Lat,
		"lng":             base.Ubicacion.Lng,
		"estado":          "ABIERTA",
		"precio_sugerido": base.PrecioSugerido,
	}, &solicitud)
	if err != nil {
		return "", err
	}

	if len(base.Fechas) > 0 {
		rows := make([]map[string]interface{}, 0, len(base.Fechas))
		for _, f := range base.Fechas {
			rows = append(rows, map[string]interface{}{
				"solicitud_id": solicitud.ID,
				"fecha":        f.Fecha,
				"hora_inicio":  f.HoraInicio,
				"hora_fin":     f.HoraFin,
			})
		}
		if err := svc.From("solicitud_fechas").Insert(rows, nil); err != nil {
			return "", err
		}
	}
	return solicitud.ID, nil
}

func (a *API) createContact(svc supabase.Client, solicitudID string, c contact) error {
	return svc.From("solicitud_contacto_cercano").Insert(map[string]interface{}{
		"solicitud_id":  solicitudID,
		"nombre":        c.Nombre,
		"relacion":      c.Relacion,
		"telefono_e164": c.TelefonoE164,
	}, nil)
}

func (a *API) createMedications(svc supabase.Client, table, personaID string, meds []medication) error {
	if len(meds) == 0 {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(meds))
	for _, m := range meds {
		rows = append(rows, map[string]interface{}{
			"persona_id": personaID,
			"nombre":     m.Nombre,
			"frecuencia": m.Frecuencia,
			"dosis":      m.Dosis,
		})
	}
	return svc.From(table).Insert(rows, nil)
}

func (a *API) readBody(w http.ResponseWriter, r *http.Request, schemaID string, into interface{}) (access.Identity, bool) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return identity, false
	}
	body, _ := io.ReadAll(r.Body)
	if err := validator.ValidateBytes(body, schemaID); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "%v", err))
		return identity, false
	}
	if err := json.Unmarshal(body, into); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid json: %v", err))
		return identity, false
	}
	return identity, true
}

func (a *API) createGrandparents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Base    baseRequest `json:"base"`
		Payload struct {
			Servicio        string  `json:"servicio"`
			ContactoCercano contact `json:"contacto_cercano"`
			Personas        []struct {
				NombreCompleto        string       `json:"nombre_completo"`
				FechaNacimiento       string       `json:"fecha_nacimiento"`
				Genero                string       `json:"genero"`
				Fumador               bool         `json:"fumador"`
				LimitacionMovimiento  bool         `json:"limitacion_movimiento"`
				TipoLimitacion        *string      `json:"tipo_limitacion"`
				AlimentosRestringidos []string     `json:"alimentos_restringidos"`
				Medicamentos          []medication `json:"medicamentos"`
			} `json:"personas"`
		} `json:"payload"`
	}
	identity, ok := a.readBody(w, r, "requests/grandparents", &req)
	if !ok {
		return
	}

	svc := a.gw.WithContext(r.Context()).AsService()
	solicitudID, err := a.createParent(svc, identity.Subject, "ABUELOS", req.Base)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	err = svc.From("solicitud_abuelos_detalle").Insert(map[string]interface{}{
		"solicitud_id": solicitudID,
		"servicio":     req.Payload.Servicio,
	}, nil)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	if err := a.createContact(svc, solicitudID, req.Payload.ContactoCercano); err != nil {
		core.WriteError(w, r, err)
		return
	}

	for _, p := range req.Payload.Personas {
		alimentos := p.AlimentosRestringidos
		if len(alimentos) > 3 {
			alimentos = alimentos[:3]
		}
		if alimentos == nil {
			alimentos = []string{}
		}
		var persona insertedRow
		err := svc.From("solicitud_abuelos_personas").Insert(map[string]interface{}{
			"solicitud_id":           solicitudID,
			"nombre_completo":        p.NombreCompleto,
			"fecha_nacimiento":       p.FechaNacimiento,
			"genero":                 p.Genero,
			"fumador":                p.Fumador,
			"limitacion_movimiento":  p.LimitacionMovimiento,
			"tipo_limitacion":        p.TipoLimitacion,
			"alimentos_restringidos": alimentos,
		}, &persona)
		if err != nil {
			core.WriteError(w, r, err)
			return
		}
		if err := a.createMedications(svc, "solicitud_abuelos_medicamentos", persona.ID, p.Medicamentos); err != nil {
			core.WriteError(w, r, err)
			return
		}
	}

	a.publisher.Publish(r.Context(), "solicitud", core.OperationCreate, solicitudID, nil)
	core.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message":      "Solicitud creada",
		"solicitud_id": solicitudID,
	})
}

func (a *API) createChildren(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Base    baseRequest `json:"base"`
		Payload struct {
			Servicio      string  `json:"servicio"`
			ContactoTutor contact `json:"contacto_tutor"`
			Personas      []struct {
				NombreCompleto       string       `json:"nombre_completo"`
				FechaNacimiento      string       `json:"fecha_nacimiento"`
				Genero               string       `json:"genero"`
				CaminaSolo           bool         `json:"camina_solo"`
				DificultadMovimiento bool         `json:"dificultad_movimiento"`
				TipoLimitacion       *string      `json:"tipo_limitacion"`
				CondicionMedica      bool         `json:"condicion_medica"`
				TipoCondicion        *string      `json:"tipo_condicion"`
				Alergias             bool         `json:"alergias"`
				DetalleAlergias      *string      `json:"detalle_alergias"`
				Alimentacion         string       `json:"alimentacion"`
				DietaEspecial        bool         `json:"dieta_especial"`
				TipoDietaEspecial    *string      `json:"tipo_dieta_especial"`
				ProblemasSuenio      bool         `json:"problemas_suenio"`
				ObjetoApego          bool         `json:"objeto_apego"`
				Panales              bool         `json:"panales"`
				Medicamentos         []medication `json:"medicamentos"`
			} `json:"personas"`
		} `json:"payload"`
	}
	identity, ok := a.readBody(w, r, "requests/children", &req)
	if !ok {
		return
	}

	svc := a.gw.WithContext(r.Context()).AsService()
	solicitudID, err := a.createParent(svc, identity.Subject, "NINIOS", req.Base)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	err = svc.From("solicitud_ninios_detalle").Insert(map[string]interface{}{
		"solicitud_id": solicitudID,
		"servicio":     req.Payload.Servicio,
	}, nil)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	if err := a.createContact(svc, solicitudID, req.Payload.ContactoTutor); err != nil {
		core.WriteError(w, r, err)
		return
	}

	for _, p := range req.Payload.Personas {
		var persona insertedRow
		err := svc.From("solicitud_ninios_personas").Insert(map[string]interface{}{
			"solicitud_id":          solicitudID,
			"nombre_completo":       p.NombreCompleto,
			"fecha_nacimiento":      p.FechaNacimiento,
			"genero":                p.Genero,
			"camina_solo":           p.CaminaSolo,
			"dificultad_movimiento": p.DificultadMovimiento,
			"tipo_limitacion":       p.TipoLimitacion,
			"condicion_medica":      p.CondicionMedica,
			"tipo_condicion":        p.TipoCondicion,
			"alergias":              p.Alergias,
			"detalle_alergias":      p.DetalleAlergias,
			"alimentacion":          p.Alimentacion,
			"dieta_especial":        p.DietaEspecial,
			"tipo_dieta_especial":   p.TipoDietaEspecial,
			"problemas_suenio":      p.ProblemasSuenio,
			"objeto_apego":          p.ObjetoApego,
			"panales":               p.Panales,
		}, &persona)
		if err != nil {
			core.WriteError(w, r, err)
			return
		}
		if err := a.createMedications(svc, "solicitud_ninios_medicamentos", persona.ID, p.Medicamentos); err != nil {
			core.WriteError(w, r, err)
			return
		}
	}

	a.publisher.Publish(r.Context(), "solicitud", core.OperationCreate, solicitudID, nil)
	core.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message":      "Solicitud (Niños) creada",
		"solicitud_id": solicitudID,
	})
}

func (a *API) createPets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Base    baseRequest `json:"base"`
		Payload struct {
			Servicio  string  `json:"servicio"`
			Modalidad string  `json:"modalidad"`
			Contacto  contact `json:"contacto"`
			Animales  []struct {
				Nombre              string  `json:"nombre"`
				Especie             string  `json:"especie"`
				Raza                *string `json:"raza"`
				Tamanio             string  `json:"tamanio"`
				Personalidad        string  `json:"personalidad"`
				FotoURL             *string `json:"foto_url"`
				ProblemasSalud      bool    `json:"problemas_salud"`
				DescripcionSalud    *string `json:"descripcion_salud"`
				AlimentosPreferidos *string `json:"alimentos_preferidos"`
				ClinicaVeterinaria  *string `json:"clinica_veterinaria"`
			} `json:"animales"`
		} `json:"payload"`
	}
	identity, ok := a.readBody(w, r, "requests/pets", &req)
	if !ok {
		return
	}

	svc := a.gw.WithContext(r.Context()).AsService()
	solicitudID, err := a.createParent(svc, identity.Subject, "MASCOTAS", req.Base)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	err = svc.From("solicitud_mascotas_detalle").Insert(map[string]interface{}{
		"solicitud_id": solicitudID,
		"servicio":     req.Payload.Servicio,
		"modalidad":    req.Payload.Modalidad,
	}, nil)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	if err := a.createContact(svc, solicitudID, req.Payload.Contacto); err != nil {
		core.WriteError(w, r, err)
		return
	}

	for _, animal := range req.Payload.Animales {
		err := svc.From("solicitud_mascotas_animales").Insert(map[string]interface{}{
			"solicitud_id":         solicitudID,
			"nombre":               animal.Nombre,
			"especie":              animal.Especie,
			"raza":                 animal.Raza,
			"tamanio":              animal.Tamanio,
			"personalidad":         animal.Personalidad,
			"foto_url":             animal.FotoURL,
			"problemas_salud":      animal.ProblemasSalud,
			"descripcion_salud":    animal.DescripcionSalud,
			"alimentos_preferidos": animal.AlimentosPreferidos,
			"clinica_veterinaria":  animal.ClinicaVeterinaria,
		}, nil)
		if err != nil {
			core.WriteError(w, r, err)
			return
		}
	}

	a.publisher.Publish(r.Context(), "solicitud", core.OperationCreate, solicitudID, nil)
	core.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message":      "Solicitud (Mascotas) creada",
		"solicitud_id": solicitudID,
	})
}
