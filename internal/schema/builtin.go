package schema

var primitiveTypes = []string{
	"boolean", "integer", "decimal", "string", "code", "uri", "url", "canonical",
	"id", "markdown", "date", "dateTime", "instant", "time",
	"positiveInt", "unsignedInt", "base64Binary", "oid", "uuid",
}

// DefaultTypes returns the built-in subset of FHIR R4 definitions.
func DefaultTypes() []*TypeDef {
	types := make([]*TypeDef, 0, len(primitiveTypes)+20)
	for _, p := range primitiveTypes {
		types = append(types, NewTypeDef(p, KindPrimitive))
	}

	types = append(types,
		NewTypeDef("Patient", KindResource,
			el("resourceType", "string"),
			el("id", "id"),
			arr("identifier", "Identifier"),
			el("active", "boolean"),
			arr("name", "HumanName"),
			arr("telecom", "ContactPoint"),
			el("gender", "code"),
			el("birthDate", "date"),
			el("deceasedBoolean", "boolean"),
			el("deceasedDateTime", "dateTime"),
			arr("address", "Address"),
			el("maritalStatus", "CodeableConcept"),
			el("multipleBirthInteger", "integer"),
			el("managingOrganization", "Reference"),
			arr("extension", "Extension"),
		),
		NewTypeDef("Observation", KindResource,
			el("resourceType", "string"),
			el("id", "id"),
			arr("identifier", "Identifier"),
			el("status", "code"),
			arr("category", "CodeableConcept"),
			el("code", "CodeableConcept"),
			el("subject", "Reference"),
			el("effectiveDateTime", "dateTime"),
			el("issued", "instant"),
			el("valueQuantity", "Quantity"),
			el("valueString", "string"),
			el("valueInteger", "integer"),
			el("valueBoolean", "boolean"),
			el("valueDateTime", "dateTime"),
			arr("component", "ObservationComponent"),
			arr("extension", "Extension"),
		),
		NewTypeDef("Questionnaire", KindResource,
			el("resourceType", "string"),
			el("id", "id"),
			el("url", "uri"),
			el("status", "code"),
			el("title", "string"),
			arr("item", "QuestionnaireItem"),
		),
		NewTypeDef("Organization", KindResource,
			el("resourceType", "string"),
			el("id", "id"),
			el("active", "boolean"),
			el("name", "string"),
			arr("alias", "string"),
			arr("telecom", "ContactPoint"),
			el("partOf", "Reference"),
		),
		NewTypeDef("HumanName", KindComplex,
			el("use", "code"),
			el("text", "string"),
			el("family", "string"),
			arr("given", "string"),
			arr("prefix", "string"),
			arr("suffix", "string"),
			el("period", "Period"),
		),
		NewTypeDef("ContactPoint", KindComplex,
			el("system", "code"),
			el("value", "string"),
			el("use", "code"),
			el("rank", "positiveInt"),
			el("period", "Period"),
		),
		NewTypeDef("Address", KindComplex,
			el("use", "code"),
			el("text", "string"),
			arr("line", "string"),
			el("city", "string"),
			el("state", "string"),
			el("postalCode", "string"),
			el("country", "string"),
		),
		NewTypeDef("Identifier", KindComplex,
			el("use", "code"),
			el("type", "CodeableConcept"),
			el("system", "uri"),
			el("value", "string"),
		),
		NewTypeDef("CodeableConcept", KindComplex,
			arr("coding", "Coding"),
			el("text", "string"),
		),
		NewTypeDef("Coding", KindComplex,
			el("system", "uri"),
			el("version", "string"),
			el("code", "code"),
			el("display", "string"),
		),
		NewTypeDef("Period", KindComplex,
			el("start", "dateTime"),
			el("end", "dateTime"),
		),
		NewTypeDef("Reference", KindComplex,
			el("reference", "string"),
			el("display", "string"),
		),
		NewTypeDef("Quantity", KindComplex,
			el("value", "decimal"),
			el("unit", "string"),
			el("system", "uri"),
			el("code", "code"),
		),
		NewTypeDef("Extension", KindComplex,
			el("url", "uri"),
			el("valueString", "string"),
			el("valueInteger", "integer"),
			el("valueBoolean", "boolean"),
			el("valueCode", "code"),
			arr("extension", "Extension"),
		),
		NewTypeDef("ObservationComponent", KindComplex,
			el("code", "CodeableConcept"),
			el("valueQuantity", "Quantity"),
			el("valueString", "string"),
		),
		NewTypeDef("QuestionnaireItem", KindComplex,
			el("linkId", "string"),
			el("text", "string"),
			el("type", "code"),
			el("required", "boolean"),
			el("repeats", "boolean"),
			arr("item", "QuestionnaireItem"),
		),
	)
	return types
}
