package jwt

import (
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// AlgorithmClass agrupa algoritmos JWS por tipo de clave. Es un conjunto cerrado:
// un token sólo se verifica con una clave de su misma clase.
type AlgorithmClass int

const (
	ClassUnknown AlgorithmClass = iota
	ClassHMAC
	ClassRSA
	ClassECDSA
	ClassEdDSA
)

func (c AlgorithmClass) String() string {
	switch c {
	case ClassHMAC:
		return "HMAC"
	case ClassRSA:
		return "RSA"
	case ClassECDSA:
		return "ECDSA"
	case ClassEdDSA:
		return "EdDSA"
	default:
		return "unknown"
	}
}

// Algorithm es el valor "alg" de un header JWS.
type Algorithm string

const (
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
	RS256 Algorithm = "RS256"
	RS384 Algorithm = "RS384"
	RS512 Algorithm = "RS512"
	PS256 Algorithm = "PS256"
	PS384 Algorithm = "PS384"
	PS512 Algorithm = "PS512"
	ES256 Algorithm = "ES256"
	ES384 Algorithm = "ES384"
	ES512 Algorithm = "ES512"
	EdDSA Algorithm = "EdDSA"
)

type algInfo struct {
	class  AlgorithmClass
	method jwtv5.SigningMethod
}

// "none" no figura: nunca es aceptable.
var algorithms = map[Algorithm]algInfo{
	HS256: {ClassHMAC, jwtv5.SigningMethodHS256},
	HS384: {ClassHMAC, jwtv5.SigningMethodHS384},
	HS512: {ClassHMAC, jwtv5.SigningMethodHS512},
	RS256: {ClassRSA, jwtv5.SigningMethodRS256},
	RS384: {ClassRSA, jwtv5.SigningMethodRS384},
	RS512: {ClassRSA, jwtv5.SigningMethodRS512},
	PS256: {ClassRSA, jwtv5.SigningMethodPS256},
	PS384: {ClassRSA, jwtv5.SigningMethodPS384},
	PS512: {ClassRSA, jwtv5.SigningMethodPS512},
	ES256: {ClassECDSA, jwtv5.SigningMethodES256},
	ES384: {ClassECDSA, jwtv5.SigningMethodES384},
	ES512: {ClassECDSA, jwtv5.SigningMethodES512},
	EdDSA: {ClassEdDSA, jwtv5.SigningMethodEdDSA},
}

// ParseAlgorithm valida un "alg". Es case-sensitive, como exige RFC 7515.
func ParseAlgorithm(s string) (Algorithm, bool) {
	a := Algorithm(s)
	_, ok := algorithms[a]
	return a, ok
}

// Class devuelve la clase del algoritmo (ClassUnknown si no es soportado).
func (a Algorithm) Class() AlgorithmClass {
	return algorithms[a].class
}

func (a Algorithm) method() jwtv5.SigningMethod {
	return algorithms[a].method
}
